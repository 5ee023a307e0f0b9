package task

import (
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not permitted
// by the state machine. The task is left unchanged.
type ErrInvalidTransition struct {
	TaskID string
	From   Status
	To     Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.TaskID, e.From, e.To)
}

// validTransitions maps each status to the statuses reachable from it.
// StatusStopped is reachable from every non-terminal state (user cancel)
// and is handled separately in CanTransition.
var validTransitions = map[Status][]Status{
	StatusPending:          {StatusQueued},
	StatusQueued:           {StatusRunning, StatusPending},
	StatusRunning:          {StatusAwaitingApproval, StatusReview, StatusCompleted, StatusFailed},
	StatusAwaitingApproval: {StatusRunning, StatusPending, StatusQueued},
	StatusReview:           {StatusRunning, StatusCompleted},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusStopped {
		// Explicit user cancellation is allowed from any non-terminal state.
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies a status change to the task, setting timestamps on the
// edges that own them. Returns *ErrInvalidTransition if the edge is not in
// the state machine; the task is untouched in that case.
func Transition(t *Task, to Status, now func() time.Time) error {
	if !CanTransition(t.Status, to) {
		return &ErrInvalidTransition{TaskID: t.ID, From: t.Status, To: to}
	}

	switch to {
	case StatusRunning:
		if t.StartedAt.IsZero() {
			t.StartedAt = now()
		}
	case StatusCompleted, StatusFailed, StatusStopped:
		t.CompletedAt = now()
	}

	t.Status = to
	return nil
}
