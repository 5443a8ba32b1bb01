package service

import "fmt"

// State is the lifecycle state of a service.
//
// Stopped -> Starting -> Running -> Stopping -> Stopped
// Starting/Running -> Error (until the next Start)
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	switch name {
	case "stopped":
		return StateStopped, nil
	case "starting":
		return StateStarting, nil
	case "running":
		return StateRunning, nil
	case "stopping":
		return StateStopping, nil
	case "error":
		return StateError, nil
	}
	return StateStopped, fmt.Errorf("unknown service state %q", name)
}

// HoldsPID reports whether a runtime in this state may carry a PID.
func (s State) HoldsPID() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}
