package engine

import "fmt"

// ApplyState is the lifecycle state of a resource during a run. Transitions
// only move forward: Pending -> InProgress -> Applied | Failed. A resource
// whose dependency fails transitions Pending -> Failed without ever entering
// InProgress.
type ApplyState string

const (
	// StatePending means the resource has not started.
	StatePending ApplyState = "pending"

	// StateInProgress means the resource's provider call is outstanding.
	StateInProgress ApplyState = "in_progress"

	// StateApplied means the resource conforms to its declaration and its
	// outputs are published.
	StateApplied ApplyState = "applied"

	// StateFailed is terminal: the resource's own apply failed, or a
	// dependency failed and blocked it.
	StateFailed ApplyState = "failed"
)

// IsTerminal reports whether the state is final.
func (s ApplyState) IsTerminal() bool {
	return s == StateApplied || s == StateFailed
}

// Validate checks the state is one of the known values.
func (s ApplyState) Validate() error {
	switch s {
	case StatePending, StateInProgress, StateApplied, StateFailed:
		return nil
	default:
		return fmt.Errorf("invalid apply state: %s", s)
	}
}
