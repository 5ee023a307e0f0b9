// Package feature defines the auto-mode work item: a project-scoped unit
// scheduled concurrently across worktrees, independent of the single-lane
// task queue.
package feature

import (
	"time"
)

// Status is the lifecycle state of a feature.
type Status string

const (
	StatusBacklog         Status = "backlog"
	StatusPending         Status = "pending"
	StatusInProgress      Status = "in_progress"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Feature is one auto-mode work item.
type Feature struct {
	ID          string
	ProjectID   string
	Description string
	Status      Status
	// WorktreePath is the isolated working copy bound to the feature
	// while it runs; empty until admission.
	WorktreePath string
	Priority     int
	// Sessions counts executor runs, carried across restarts.
	Sessions    int
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Clone returns a copy of the feature.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}
