package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady matches any *NotReadyError.
	ErrNotReady     = errors.New("session: not ready")
	ErrInvalidPhone = errors.New("session: invalid phone number")
	ErrShutdown     = errors.New("session: shut down")
)

// NotReadyError is returned when an operation needs a Ready session.
type NotReadyError struct {
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session: not ready (state %s)", e.State)
}

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

// TransportError wraps a backend failure for a single send.
type TransportError struct {
	To  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: send to %s: %v", e.To, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HandshakeError is returned by InitAuth when the connection could not be set up.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("session: handshake: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }
