package events

import (
	"time"

	"github.com/taskdeck/taskdeck/internal/task"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	SubjectID() string
}

// Topic constants
const (
	TopicTask      = "task"
	TopicFeature   = "feature"
	TopicRateLimit = "ratelimit"
)

// Event type constants
const (
	EventTypeTaskStatusChanged = "task.status_changed"
	EventTypeTaskOutput        = "task.output"
	EventTypeTaskPlanGenerated = "task.plan_generated"
	EventTypeFeatureStarted    = "feature.started"
	EventTypeFeatureCompleted  = "feature.completed"
	EventTypeFeatureFailed     = "feature.failed"
	EventTypeFeatureProgress   = "feature.progress"
	EventTypeRateLimitEntered  = "ratelimit.entered"
	EventTypeRateLimitExited   = "ratelimit.exited"
)

// TaskStatusChangedEvent is published on every task status transition.
type TaskStatusChangedEvent struct {
	ID        string
	From      task.Status
	To        task.Status
	Timestamp time.Time
}

func (e TaskStatusChangedEvent) EventType() string { return EventTypeTaskStatusChanged }
func (e TaskStatusChangedEvent) SubjectID() string { return e.ID }

// TaskOutputEvent is published when a line is appended to a task's output buffer.
type TaskOutputEvent struct {
	ID        string
	Index     int
	Line      string
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) SubjectID() string { return e.ID }

// TaskPlanGeneratedEvent is published when the executor emits a plan.
type TaskPlanGeneratedEvent struct {
	ID        string
	Version   int
	Timestamp time.Time
}

func (e TaskPlanGeneratedEvent) EventType() string { return EventTypeTaskPlanGenerated }
func (e TaskPlanGeneratedEvent) SubjectID() string { return e.ID }

// FeatureStartedEvent is published when auto mode admits a feature.
type FeatureStartedEvent struct {
	ID        string
	ProjectID string
	Worktree  string
	Timestamp time.Time
}

func (e FeatureStartedEvent) EventType() string { return EventTypeFeatureStarted }
func (e FeatureStartedEvent) SubjectID() string { return e.ID }

// FeatureCompletedEvent is published when a feature finishes successfully.
type FeatureCompletedEvent struct {
	ID        string
	ProjectID string
	Duration  time.Duration
	Timestamp time.Time
}

func (e FeatureCompletedEvent) EventType() string { return EventTypeFeatureCompleted }
func (e FeatureCompletedEvent) SubjectID() string { return e.ID }

// FeatureFailedEvent is published when a feature fails.
type FeatureFailedEvent struct {
	ID        string
	ProjectID string
	Err       error
	Timestamp time.Time
}

func (e FeatureFailedEvent) EventType() string { return EventTypeFeatureFailed }
func (e FeatureFailedEvent) SubjectID() string { return e.ID }

// FeatureProgressEvent summarizes a project's auto-mode state.
type FeatureProgressEvent struct {
	ProjectID string
	Backlog   int
	Running   int
	Completed int
	Failed    int
	Timestamp time.Time
}

func (e FeatureProgressEvent) EventType() string { return EventTypeFeatureProgress }
func (e FeatureProgressEvent) SubjectID() string { return e.ProjectID }

// RateLimitEnteredEvent is published when a project stops admitting features
// because the upstream provider reported a rate limit.
type RateLimitEnteredEvent struct {
	ProjectID string
	ResetAt   time.Time
	Timestamp time.Time
}

func (e RateLimitEnteredEvent) EventType() string { return EventTypeRateLimitEntered }
func (e RateLimitEnteredEvent) SubjectID() string { return e.ProjectID }

// RateLimitExitedEvent is published when the reset time elapses and
// admission resumes.
type RateLimitExitedEvent struct {
	ProjectID string
	Timestamp time.Time
}

func (e RateLimitExitedEvent) EventType() string { return EventTypeRateLimitExited }
func (e RateLimitExitedEvent) SubjectID() string { return e.ProjectID }
