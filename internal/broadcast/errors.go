package broadcast

import (
	"errors"
	"fmt"
)

// ErrCancelled is the cause recorded for recipients skipped by Cancel.
var ErrCancelled = errors.New("broadcast: cancelled")

// ResolutionError aborts a dispatch before anything is sent or published.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("broadcast: resolve recipients: %v", e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// PersistenceError is returned after all sends when the summary could not be
// stored. Summary holds the unsaved record.
type PersistenceError struct {
	Summary Summary
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("broadcast: save summary: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
