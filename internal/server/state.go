package server

import (
	"errors"
	"fmt"
)

// ProcessState is the lifecycle state of the managed game server.
type ProcessState int32

const (
	StateStopped ProcessState = iota
	StateStarting
	StateRunning
	StateStopping
)

var (
	// ErrInvalidTransition is returned when an async operation runs without
	// the matching successful Init call.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotRunning is returned when an operation needs a live process.
	ErrNotRunning = errors.New("game process is not running")

	// ErrProcessExited is returned when a process has already exited.
	ErrProcessExited = errors.New("game process has exited")

	// ErrProcessLingering is returned when a killed process has not exited.
	ErrProcessLingering = errors.New("game process still alive after kill")
)

func (s ProcessState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("ProcessState(%d)", int32(s))
	}
}

// MarshalText renders the state by name so JSON payloads carry "RUNNING"
// rather than a number.
func (s ProcessState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseProcessState is the inverse of String.
func ParseProcessState(value string) (ProcessState, error) {
	switch value {
	case "STOPPED":
		return StateStopped, nil
	case "STARTING":
		return StateStarting, nil
	case "RUNNING":
		return StateRunning, nil
	case "STOPPING":
		return StateStopping, nil
	}
	return StateStopped, fmt.Errorf("unknown process state %q", value)
}
