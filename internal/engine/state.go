package engine

import "fmt"

// State is the fast-path state of the engine. Persistence runs alongside
// and is reported separately.
//
//	Idle ──trigger──> Resolving ──> FastPathRunning ──> FastPathDone ──> Idle
//	  ^                   │                │
//	  └─── precondition ──┘                └── decode error ──> Idle
//
// A trigger in any state supersedes the cycle in flight.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateFastPathRunning
	StateFastPathDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateResolving:
		return "Resolving"
	case StateFastPathRunning:
		return "FastPathRunning"
	case StateFastPathDone:
		return "FastPathDone"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// MarshalText lets State appear by name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
