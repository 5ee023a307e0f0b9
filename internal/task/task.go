package task

import (
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending          Status = "pending"
	StatusQueued           Status = "queued"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusReview           Status = "review"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusStopped          Status = "stopped"
)

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// AgentType classifies the kind of work a task performs.
type AgentType string

const (
	AgentFeature  AgentType = "feature"
	AgentBugfix   AgentType = "bugfix"
	AgentRefactor AgentType = "refactor"
	AgentTest     AgentType = "test"
	AgentDocs     AgentType = "docs"
)

// PlanningMode controls whether and how a plan is generated before execution.
type PlanningMode string

const (
	PlanSkip PlanningMode = "skip"
	PlanLite PlanningMode = "lite"
	PlanSpec PlanningMode = "spec"
	PlanFull PlanningMode = "full"
)

// PlanStatus is the sub-status of a task's plan.
type PlanStatus string

const (
	PlanPending    PlanStatus = "pending"
	PlanGenerating PlanStatus = "generating"
	PlanGenerated  PlanStatus = "generated"
	PlanApproved   PlanStatus = "approved"
	PlanRejected   PlanStatus = "rejected"
)

// PlanSpecRecord holds the generated plan and its review state.
type PlanSpecRecord struct {
	Status      PlanStatus
	Content     string
	Version     int
	GeneratedAt time.Time
	ReviewedAt  time.Time
}

// FeedbackEntry is one reviewer message in a task's feedback history.
type FeedbackEntry struct {
	Content   string
	CreatedAt time.Time
}

// FileChanges lists paths touched during execution.
type FileChanges struct {
	Created  []string
	Modified []string
	Deleted  []string
}

// Task is the central work item of the orchestrator.
// The store is the source of truth for task content; in-memory components
// (queue, resolver) hold only ids.
type Task struct {
	ID              string
	Description     string
	AgentType       AgentType
	TargetDirectory string
	BranchName      string
	Parameters      map[string]string

	Priority    int
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Status Status

	PlanningMode        PlanningMode
	RequirePlanApproval bool
	RequireReview       bool
	Plan                PlanSpecRecord

	ProcessID int
	ExitCode  int
	Error     string
	Changes   FileChanges

	FeedbackHistory []FeedbackEntry
}

// Clone returns a deep copy so callers can't mutate shared state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Parameters != nil {
		cp.Parameters = make(map[string]string, len(t.Parameters))
		for k, v := range t.Parameters {
			cp.Parameters[k] = v
		}
	}
	cp.FeedbackHistory = append([]FeedbackEntry(nil), t.FeedbackHistory...)
	cp.Changes.Created = append([]string(nil), t.Changes.Created...)
	cp.Changes.Modified = append([]string(nil), t.Changes.Modified...)
	cp.Changes.Deleted = append([]string(nil), t.Changes.Deleted...)
	return &cp
}
