// Package lifecycle runs the authgate process as an ordered set of
// components (refresh store, key prefetch, listeners) behind a single
// validated state machine.
//
// # Service Lifecycle
//
// A [Service] moves through the states below. Every transition is checked
// against [ValidTransition]; an illegal one is a [sserr.CodeConflict]
// error.
//
//	Unknown → Starting → Ready → Stopping → Stopped
//
// Any non-terminal state may move to Failed. Both terminal states may move
// back to Starting.
//
// Components start in registration order and stop in reverse order. When
// a component fails to start, the components already started are stopped
// before the service reports [StateFailed].
//
// # OpenTelemetry Integration
//
// Start and Stop create spans under the tracer scope
// "github.com/StricklySoft/stricklysoft-authgate/pkg/lifecycle".
package lifecycle

// State is the lifecycle state of a [Service].
type State string

const (
	// StateUnknown is the state of a service that was never started.
	StateUnknown State = "unknown"

	// StateStarting is set while component start hooks run.
	StateStarting State = "starting"

	// StateReady means every component started. Only a ready service
	// reports healthy.
	StateReady State = "ready"

	// StateStopping is set while component stop hooks run.
	StateStopping State = "stopping"

	// StateStopped is the terminal state after a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed is the terminal state after a start or stop hook failed.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a recognized state. The zero value is not.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateReady, StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is [StateStopped] or [StateFailed].
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// validTransitions maps each state to the states it may move to.
//
//	Unknown  → Starting, Failed
//	Starting → Ready, Stopping, Failed
//	Ready    → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateReady, StateStopping, StateFailed},
	StateReady:    {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether a service may move from one state to
// another. Same-state transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
