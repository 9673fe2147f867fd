package session

import "fmt"

// State is the lifecycle state of the messaging session.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateAwaitingScan
	StateAuthenticated
	StateReady
	StateFailed
	StateDisconnected
)

var stateNames = [...]string{
	StateIdle:          "idle",
	StateInitializing:  "initializing",
	StateAwaitingScan:  "awaiting_scan",
	StateAuthenticated: "authenticated",
	StateReady:         "ready",
	StateFailed:        "failed",
	StateDisconnected:  "disconnected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// handshaking reports whether a handshake is in flight.
func (s State) handshaking() bool {
	return s == StateInitializing || s == StateAwaitingScan || s == StateAuthenticated
}

// UnmarshalText parses a state name; unknown names are an error.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", b)
}
