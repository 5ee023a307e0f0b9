// Package executor starts and monitors the external coding-agent process.
// The agent's internal behavior is opaque: the orchestrator sees only the
// typed event stream defined here.
package executor

import (
	"context"
	"time"
)

// EventType discriminates executor stream events.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventToolUse       EventType = "tool_use"
	EventPlanGenerated EventType = "plan_generated"
	EventRateLimitHit  EventType = "rate_limit_hit"
	EventError         EventType = "error"
	EventComplete      EventType = "complete"
)

// Event is one message from the agent process.
type Event struct {
	Type EventType
	// Text carries output for EventTextDelta and the message for EventError.
	Text string
	// Tool names the tool for EventToolUse.
	Tool string
	// Plan carries the generated plan content for EventPlanGenerated.
	Plan string
	// ResetAt is the provider-supplied reset time for EventRateLimitHit;
	// zero when the provider gave none.
	ResetAt time.Time
	// ExitCode is set on EventComplete.
	ExitCode int
}

// Phase selects what the agent invocation should do.
type Phase string

const (
	// PhasePlan asks the agent to produce a plan without touching files.
	PhasePlan Phase = "plan"
	// PhaseExecute asks the agent to carry out the work.
	PhaseExecute Phase = "execute"
)

// Request describes one agent invocation.
type Request struct {
	TaskID       string
	Description  string
	WorkDir      string
	Phase        Phase
	PlanningMode string
	// Plan is the approved plan content, passed on PhaseExecute when a
	// plan was generated.
	Plan string
	// Feedback is the reviewer feedback history, oldest first, included
	// in the prompt on re-execution.
	Feedback []string
	// Parameters is the task's opaque key/value bag.
	Parameters map[string]string
}

// Handle is a running agent invocation. Events() yields the stream in
// arrival order and is closed after the final EventComplete. Stop is
// best-effort on the process side: the caller's state transition is
// authoritative regardless of whether the process acknowledges.
type Handle interface {
	Events() <-chan Event
	Stop() error
	PID() int
}

// Executor starts agent invocations.
type Executor interface {
	Start(ctx context.Context, req Request) (Handle, error)
}
