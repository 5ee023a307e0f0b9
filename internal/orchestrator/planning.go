package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/taskdeck/taskdeck/internal/events"
	"github.com/taskdeck/taskdeck/internal/executor"
	"github.com/taskdeck/taskdeck/internal/task"
)

// runPlanPhase generates a plan for a running task. If the task requires
// approval the task parks in awaiting_approval (keeping the lane) until
// ApprovePlan or RejectPlan; otherwise the plan is advisory and execution
// proceeds immediately.
func (c *Coordinator) runPlanPhase(ctx context.Context, id string) {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil || t.Status != task.StatusRunning {
		c.locks.Unlock(id)
		c.releaseLane(ctx, id)
		return
	}
	// Each generation attempt is a new version, so rejected content is
	// never confused with a fresh plan.
	t.Plan.Status = task.PlanGenerating
	t.Plan.Version++
	if err := c.store.UpdateTaskPlan(ctx, id, t.Plan); err != nil {
		c.locks.Unlock(id)
		c.failTask(ctx, id, fmt.Sprintf("failed to record plan generation: %v", err), 0, 0)
		return
	}
	req := executor.Request{
		TaskID:       id,
		Description:  t.Description,
		WorkDir:      t.TargetDirectory,
		Phase:        executor.PhasePlan,
		PlanningMode: string(t.PlanningMode),
		Feedback:     feedbackStrings(t),
		Parameters:   t.Parameters,
	}
	c.locks.Unlock(id)

	h, err := c.exec.Start(ctx, req)
	if err != nil {
		c.failTask(ctx, id, fmt.Sprintf("failed to start planning agent: %v", err), 0, 0)
		return
	}
	c.trackHandle(id, h)

	var planContent, errMsg string
	exitCode := 0
	for ev := range h.Events() {
		switch ev.Type {
		case executor.EventTextDelta:
			c.appendOutput(ctx, id, ev.Text)
		case executor.EventToolUse:
			c.appendOutput(ctx, id, "[tool] "+ev.Tool)
		case executor.EventPlanGenerated:
			planContent = ev.Plan
		case executor.EventRateLimitHit, executor.EventError:
			errMsg = ev.Text
		case executor.EventComplete:
			exitCode = ev.ExitCode
		}
	}
	c.untrackHandle(id)

	c.locks.Lock(id)
	t, err = c.store.GetTask(ctx, id)
	if err != nil || t.Status != task.StatusRunning {
		// Stopped while planning; StopTask already settled the task.
		c.locks.Unlock(id)
		c.releaseLane(ctx, id)
		return
	}
	if errMsg != "" || exitCode != 0 || planContent == "" {
		if errMsg == "" {
			errMsg = fmt.Sprintf("planning agent produced no plan (exit code %d)", exitCode)
		}
		c.locks.Unlock(id)
		c.failTask(ctx, id, errMsg, h.PID(), exitCode)
		return
	}

	t.Plan.Status = task.PlanGenerated
	t.Plan.Content = planContent
	t.Plan.GeneratedAt = c.now()
	if err := c.store.UpdateTaskPlan(ctx, id, t.Plan); err != nil {
		c.locks.Unlock(id)
		c.failTask(ctx, id, fmt.Sprintf("failed to store plan: %v", err), h.PID(), exitCode)
		return
	}
	c.bus.Publish(events.TopicTask, events.TaskPlanGeneratedEvent{
		ID:        id,
		Version:   t.Plan.Version,
		Timestamp: c.now(),
	})

	if t.RequirePlanApproval {
		if err := c.setStatus(ctx, t, task.StatusAwaitingApproval); err != nil {
			log.Printf("ERROR: failed to park task %s for approval: %v", id, err)
		}
		// Lane stays held; ApprovePlan or RejectPlan resumes the task.
		c.locks.Unlock(id)
		return
	}
	c.locks.Unlock(id)

	c.runExecutePhase(ctx, id)
}

// ApprovePlan approves a generated plan and resumes execution. Rejected
// with an invalid-transition error, task unchanged, when the task is not
// in awaiting_approval.
func (c *Coordinator) ApprovePlan(ctx context.Context, id string) error {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		c.locks.Unlock(id)
		return err
	}
	if t.Status != task.StatusAwaitingApproval {
		c.locks.Unlock(id)
		return &task.ErrInvalidTransition{TaskID: id, From: t.Status, To: task.StatusRunning}
	}

	t.Plan.Status = task.PlanApproved
	t.Plan.ReviewedAt = c.now()
	if err := c.store.UpdateTaskPlan(ctx, id, t.Plan); err != nil {
		c.locks.Unlock(id)
		return err
	}
	if err := c.setStatus(ctx, t, task.StatusRunning); err != nil {
		c.locks.Unlock(id)
		return err
	}
	c.locks.Unlock(id)

	go c.runExecutePhase(ctx, id)
	return nil
}

// RejectPlan records the rejection feedback, marks the plan rejected, and
// returns the task to pending for a new planning attempt. The version
// counter increments on the next generation.
func (c *Coordinator) RejectPlan(ctx context.Context, id, feedback string) error {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		c.locks.Unlock(id)
		return err
	}
	if t.Status != task.StatusAwaitingApproval {
		c.locks.Unlock(id)
		return &task.ErrInvalidTransition{TaskID: id, From: t.Status, To: task.StatusPending}
	}

	if feedback != "" {
		if err := c.store.AppendFeedback(ctx, id, feedback); err != nil {
			c.locks.Unlock(id)
			return err
		}
	}
	t.Plan.Status = task.PlanRejected
	t.Plan.ReviewedAt = c.now()
	if err := c.store.UpdateTaskPlan(ctx, id, t.Plan); err != nil {
		c.locks.Unlock(id)
		return err
	}
	if err := c.setStatus(ctx, t, task.StatusPending); err != nil {
		c.locks.Unlock(id)
		return err
	}
	c.locks.Unlock(id)

	c.releaseLane(ctx, id)
	return nil
}

func feedbackStrings(t *task.Task) []string {
	if len(t.FeedbackHistory) == 0 {
		return nil
	}
	out := make([]string, 0, len(t.FeedbackHistory))
	for _, entry := range t.FeedbackHistory {
		out = append(out, entry.Content)
	}
	return out
}
