package workflow

import "fmt"

// Status is a step's scheduling state. Transitions are validated; the
// status table is owned by the graph and mutated only by the scheduler.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStale     Status = "stale"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether a chain stops advancing at this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusStale, StatusRunning, StatusSkipped},
	StatusStale:     {StatusRunning, StatusSkipped},
	StatusRunning:   {StatusSucceeded, StatusFailed, StatusPending},
	StatusSucceeded: {StatusStale},
	StatusFailed:    {StatusStale, StatusSkipped},
	StatusSkipped:   {StatusStale},
}

// ValidTransition reports whether from may move to to. Cancellation maps
// Running back to Pending since the partial artifact was never promoted.
func ValidTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an attempted invalid status change.
type TransitionError struct {
	Step string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("workflow: step %s cannot move %s -> %s", e.Step, e.From, e.To)
}
