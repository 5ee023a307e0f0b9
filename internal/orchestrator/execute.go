package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/taskdeck/taskdeck/internal/executor"
	"github.com/taskdeck/taskdeck/internal/task"
)

// runExecutePhase runs the agent on a task already in running, consumes
// its event stream, and settles the task: review when the workflow enables
// it, completed/failed otherwise. Output lines are appended in arrival
// order; no reordering within the task's stream.
func (c *Coordinator) runExecutePhase(ctx context.Context, id string) {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil || t.Status != task.StatusRunning {
		c.locks.Unlock(id)
		c.releaseLane(ctx, id)
		return
	}
	req := executor.Request{
		TaskID:      id,
		Description: t.Description,
		WorkDir:     t.TargetDirectory,
		Phase:       executor.PhaseExecute,
		Plan:        approvedPlan(t),
		Feedback:    feedbackStrings(t),
		Parameters:  t.Parameters,
	}
	c.locks.Unlock(id)

	h, err := c.exec.Start(ctx, req)
	if err != nil {
		c.failTask(ctx, id, fmt.Sprintf("failed to start agent: %v", err), 0, 0)
		return
	}
	c.trackHandle(id, h)

	var errMsg string
	exitCode := 0
	for ev := range h.Events() {
		switch ev.Type {
		case executor.EventTextDelta:
			c.appendOutput(ctx, id, ev.Text)
		case executor.EventToolUse:
			c.appendOutput(ctx, id, "[tool] "+ev.Tool)
		case executor.EventPlanGenerated:
			// Advisory mid-execution plan update; approval already happened.
			c.recordAdvisoryPlan(ctx, id, ev.Plan)
		case executor.EventRateLimitHit:
			errMsg = "provider rate limit: " + ev.Text
		case executor.EventError:
			errMsg = ev.Text
		case executor.EventComplete:
			exitCode = ev.ExitCode
		}
	}
	c.untrackHandle(id)

	c.finishExecution(ctx, id, h.PID(), exitCode, errMsg)
}

// finishExecution settles a task whose agent process exited. Idempotent
// against duplicate delivery: a task already terminal is left alone and
// the lane release is a conditional no-op.
func (c *Coordinator) finishExecution(ctx context.Context, id string, pid, exitCode int, errMsg string) {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil || t.Status != task.StatusRunning {
		c.locks.Unlock(id)
		c.releaseLane(ctx, id)
		return
	}

	if uerr := c.store.UpdateTaskResult(ctx, id, pid, exitCode, errMsg, t.Changes); uerr != nil {
		log.Printf("WARNING: failed to record result for task %s: %v", id, uerr)
	}

	if errMsg != "" || exitCode != 0 {
		if serr := c.setStatus(ctx, t, task.StatusFailed); serr != nil {
			log.Printf("ERROR: failed to fail task %s: %v", id, serr)
		}
		c.locks.Unlock(id)
		c.releaseLane(ctx, id)
		return
	}

	if t.RequireReview {
		if serr := c.setStatus(ctx, t, task.StatusReview); serr != nil {
			log.Printf("ERROR: failed to move task %s to review: %v", id, serr)
			c.locks.Unlock(id)
			c.releaseLane(ctx, id)
			return
		}
		c.ensureReviewState(id)
		// Lane stays held through review; approve/discard settles it.
		c.locks.Unlock(id)
		return
	}

	if serr := c.setStatus(ctx, t, task.StatusCompleted); serr != nil {
		log.Printf("ERROR: failed to complete task %s: %v", id, serr)
	}
	c.locks.Unlock(id)
	c.releaseLane(ctx, id)
}

// failTask records errMsg and moves the task to failed, releasing the lane.
func (c *Coordinator) failTask(ctx context.Context, id, errMsg string, pid, exitCode int) {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil || t.Status.Terminal() {
		c.locks.Unlock(id)
		c.releaseLane(ctx, id)
		return
	}
	if uerr := c.store.UpdateTaskResult(ctx, id, pid, exitCode, errMsg, t.Changes); uerr != nil {
		log.Printf("WARNING: failed to record error for task %s: %v", id, uerr)
	}
	if serr := c.setStatus(ctx, t, task.StatusFailed); serr != nil {
		log.Printf("ERROR: failed to fail task %s: %v", id, serr)
	}
	c.locks.Unlock(id)
	c.releaseLane(ctx, id)
}

// recordAdvisoryPlan stores plan content emitted mid-execution without
// touching the approval state.
func (c *Coordinator) recordAdvisoryPlan(ctx context.Context, id, content string) {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		return
	}
	t.Plan.Content = content
	t.Plan.GeneratedAt = c.now()
	if t.Plan.Status == task.PlanPending {
		t.Plan.Status = task.PlanGenerated
		t.Plan.Version++
	}
	if err := c.store.UpdateTaskPlan(ctx, id, t.Plan); err != nil {
		log.Printf("WARNING: failed to store advisory plan for task %s: %v", id, err)
	}
}

func (c *Coordinator) trackHandle(id string, h executor.Handle) {
	c.mu.Lock()
	c.handles[id] = h
	c.mu.Unlock()
}

func (c *Coordinator) untrackHandle(id string) {
	c.mu.Lock()
	delete(c.handles, id)
	c.mu.Unlock()
}

func approvedPlan(t *task.Task) string {
	if t.Plan.Status == task.PlanApproved || t.Plan.Status == task.PlanGenerated {
		return t.Plan.Content
	}
	return ""
}
