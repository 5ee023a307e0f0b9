package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/executor"
	"github.com/taskdeck/taskdeck/internal/task"
)

// Finalizer commits a reviewed task's working-copy changes and reports
// what was touched. Wired by the git/file layer; nil means nothing to do.
type Finalizer func(ctx context.Context, t *task.Task) (task.FileChanges, error)

// Discarder abandons a reviewed task's working-copy changes.
type Discarder func(ctx context.Context, t *task.Task) error

// TerminalOpener creates an interactive session in dir and returns its id.
// The PTY layer is an external collaborator; nil yields bare descriptors.
type TerminalOpener func(dir string) (string, error)

// SetReviewHooks installs the collaborators the review workflow calls into.
func (c *Coordinator) SetReviewHooks(finalize Finalizer, discard Discarder, openTerminal TerminalOpener) {
	c.finalize = finalize
	c.discard = discard
	c.openTerminal = openTerminal
}

// Terminal is one recorded interactive session opened during review.
type Terminal struct {
	ID        string
	CreatedAt time.Time
}

// PreviewProcess describes the task's single auxiliary run-project process.
type PreviewProcess struct {
	PID       int
	Script    string
	StartedAt time.Time
}

// reviewState is the per-task review overlay. Keyed by task id; no
// cross-task locking is needed.
type reviewState struct {
	preview   *previewProc
	terminals []Terminal
}

type previewProc struct {
	info PreviewProcess
	stop func() error
}

// SubmitFeedback appends reviewer feedback and re-enters running: the task
// is re-executed with the full feedback history as additional input.
func (c *Coordinator) SubmitFeedback(ctx context.Context, id, text string) error {
	if text == "" {
		return fmt.Errorf("feedback text is required")
	}

	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		c.locks.Unlock(id)
		return err
	}
	if t.Status != task.StatusReview {
		c.locks.Unlock(id)
		return &task.ErrInvalidTransition{TaskID: id, From: t.Status, To: task.StatusRunning}
	}
	if err := c.store.AppendFeedback(ctx, id, text); err != nil {
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

// ApproveChanges finalizes a reviewed task. On finalizer failure the task
// stays in review so the caller can retry; on success the task completes,
// review state is cleared, and the lane is released.
func (c *Coordinator) ApproveChanges(ctx context.Context, id string) error {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		c.locks.Unlock(id)
		return err
	}
	if t.Status != task.StatusReview {
		c.locks.Unlock(id)
		return &task.ErrInvalidTransition{TaskID: id, From: t.Status, To: task.StatusCompleted}
	}

	if c.finalize != nil {
		changes, ferr := c.finalize(ctx, t)
		if ferr != nil {
			// Task status unchanged; the approval can be retried.
			c.locks.Unlock(id)
			return fmt.Errorf("failed to finalize changes: %w", ferr)
		}
		t.Changes = changes
		if uerr := c.store.UpdateTaskResult(ctx, id, t.ProcessID, t.ExitCode, t.Error, changes); uerr != nil {
			log.Printf("WARNING: failed to record file changes for task %s: %v", id, uerr)
		}
	}

	c.stopPreviewLocked(id)
	c.clearReviewState(id)
	if err := c.setStatus(ctx, t, task.StatusCompleted); err != nil {
		c.locks.Unlock(id)
		return err
	}
	c.locks.Unlock(id)

	c.releaseLane(ctx, id)
	return nil
}

// DiscardChanges abandons the task's working-copy changes and stops it.
// The stop is authoritative even when the discard hook reports an error.
func (c *Coordinator) DiscardChanges(ctx context.Context, id string) error {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		c.locks.Unlock(id)
		return err
	}
	if t.Status != task.StatusReview {
		c.locks.Unlock(id)
		return &task.ErrInvalidTransition{TaskID: id, From: t.Status, To: task.StatusStopped}
	}

	if c.discard != nil {
		if derr := c.discard(ctx, t); derr != nil {
			log.Printf("WARNING: failed to discard changes for task %s: %v", id, derr)
		}
	}

	c.stopPreviewLocked(id)
	c.clearReviewState(id)
	if err := c.setStatus(ctx, t, task.StatusStopped); err != nil {
		c.locks.Unlock(id)
		return err
	}
	c.locks.Unlock(id)

	c.releaseLane(ctx, id)
	return nil
}

// RunProject starts the task's auxiliary preview process. At most one
// lives per task: starting a new one stops the previous one first. script
// falls back to the task's run_script parameter.
func (c *Coordinator) RunProject(ctx context.Context, id, script string) (PreviewProcess, error) {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		return PreviewProcess{}, err
	}
	if t.Status != task.StatusReview {
		return PreviewProcess{}, fmt.Errorf("task %s is not in review", id)
	}
	if script == "" {
		script = t.Parameters["run_script"]
	}
	if script == "" {
		return PreviewProcess{}, fmt.Errorf("no run script for task %s", id)
	}

	c.stopPreviewLocked(id)

	cmd := executor.NewCommand(ctx, "sh", "-c", script)
	cmd.Dir = t.TargetDirectory
	if err := cmd.Start(); err != nil {
		return PreviewProcess{}, fmt.Errorf("failed to start preview: %w", err)
	}
	go cmd.Wait()

	info := PreviewProcess{PID: cmd.Process.Pid, Script: script, StartedAt: c.now()}
	st := c.ensureReviewState(id)
	c.mu.Lock()
	st.preview = &previewProc{info: info, stop: func() error { return executor.KillGroup(cmd) }}
	c.mu.Unlock()
	return info, nil
}

// StopProject stops the task's preview process if one is running.
func (c *Coordinator) StopProject(ctx context.Context, id string) error {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	if _, err := c.store.GetTask(ctx, id); err != nil {
		return err
	}
	c.stopPreviewLocked(id)
	return nil
}

// OpenTerminal records an additional interactive session for the task.
// No upper bound on open terminals is enforced here.
func (c *Coordinator) OpenTerminal(ctx context.Context, id string) (Terminal, error) {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		return Terminal{}, err
	}
	if t.Status != task.StatusReview {
		return Terminal{}, fmt.Errorf("task %s is not in review", id)
	}

	termID := uuid.NewString()
	if c.openTerminal != nil {
		opened, oerr := c.openTerminal(t.TargetDirectory)
		if oerr != nil {
			return Terminal{}, fmt.Errorf("failed to open terminal: %w", oerr)
		}
		termID = opened
	}

	term := Terminal{ID: termID, CreatedAt: c.now()}
	st := c.ensureReviewState(id)
	c.mu.Lock()
	st.terminals = append(st.terminals, term)
	c.mu.Unlock()
	return term, nil
}

// OpenTerminals returns the recorded sessions for a task.
func (c *Coordinator) OpenTerminals(id string) []Terminal {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.reviews[id]
	if !ok {
		return nil
	}
	return append([]Terminal(nil), st.terminals...)
}

// Preview returns the task's live preview process, if any.
func (c *Coordinator) Preview(id string) (PreviewProcess, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.reviews[id]
	if !ok || st.preview == nil {
		return PreviewProcess{}, false
	}
	return st.preview.info, true
}

func (c *Coordinator) ensureReviewState(id string) *reviewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.reviews[id]
	if !ok {
		st = &reviewState{}
		c.reviews[id] = st
	}
	return st
}

func (c *Coordinator) clearReviewState(id string) {
	c.mu.Lock()
	delete(c.reviews, id)
	c.mu.Unlock()
}

// stopPreviewLocked kills the task's preview process. Caller holds the
// task's keyed lock.
func (c *Coordinator) stopPreviewLocked(id string) {
	c.mu.Lock()
	st, ok := c.reviews[id]
	var stop func() error
	if ok && st.preview != nil {
		stop = st.preview.stop
		st.preview = nil
	}
	c.mu.Unlock()

	if stop != nil {
		if err := stop(); err != nil {
			log.Printf("WARNING: failed to stop preview for task %s: %v", id, err)
		}
	}
}
