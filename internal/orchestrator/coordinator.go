// Package orchestrator coordinates the task lifecycle: admission into the
// single execution lane, the planning gate, the review workflow, and
// cancellation. It does no CPU-bound work of its own -- it reacts to store
// queries, executor stream events, and explicit API calls.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/deps"
	"github.com/taskdeck/taskdeck/internal/events"
	"github.com/taskdeck/taskdeck/internal/executor"
	"github.com/taskdeck/taskdeck/internal/output"
	"github.com/taskdeck/taskdeck/internal/queue"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/internal/task"
)

// Coordinator runs tasks through their state machine on a single execution
// lane. All status updates for one task happen inside that task's keyed
// critical section; different tasks proceed in parallel.
type Coordinator struct {
	store    *store.SQLiteStore
	queue    *queue.TaskQueue
	resolver *deps.Resolver
	buffer   *output.Buffer
	bus      *events.Bus
	exec     executor.Executor
	locks    *keyedMutex
	now      func() time.Time

	finalize     Finalizer
	discard      Discarder
	openTerminal TerminalOpener

	mu      sync.Mutex
	handles map[string]executor.Handle
	reviews map[string]*reviewState
}

// New creates a Coordinator. exec is the executor collaborator that runs
// the actual agent work.
func New(st *store.SQLiteStore, bus *events.Bus, exec executor.Executor) *Coordinator {
	return &Coordinator{
		store:    st,
		queue:    queue.New(),
		resolver: deps.NewResolver(),
		buffer:   output.NewBuffer(),
		bus:      bus,
		exec:     exec,
		locks:    newKeyedMutex(),
		now:      time.Now,
		handles:  make(map[string]executor.Handle),
		reviews:  make(map[string]*reviewState),
	}
}

// CreateTaskParams are the caller-supplied fields of a new task.
type CreateTaskParams struct {
	Description         string
	AgentType           task.AgentType
	TargetDirectory     string
	BranchName          string
	Priority            int
	PlanningMode        task.PlanningMode
	RequirePlanApproval bool
	RequireReview       bool
	Parameters          map[string]string
	DependsOn           []string
}

// CreateTask persists a new task in pending and declares its dependencies.
// A cycle-forming dependency set rejects the whole creation.
func (c *Coordinator) CreateTask(ctx context.Context, p CreateTaskParams) (*task.Task, error) {
	if p.Description == "" {
		return nil, fmt.Errorf("task description is required")
	}
	if p.TargetDirectory == "" {
		return nil, fmt.Errorf("target directory is required")
	}
	mode := p.PlanningMode
	if mode == "" {
		mode = task.PlanSkip
	}

	t := &task.Task{
		ID:                  uuid.NewString(),
		Description:         p.Description,
		AgentType:           p.AgentType,
		TargetDirectory:     p.TargetDirectory,
		BranchName:          p.BranchName,
		Parameters:          p.Parameters,
		Priority:            p.Priority,
		CreatedAt:           c.now(),
		Status:              task.StatusPending,
		PlanningMode:        mode,
		RequirePlanApproval: p.RequirePlanApproval,
		RequireReview:       p.RequireReview,
		Plan:                task.PlanSpecRecord{Status: task.PlanPending},
	}

	if err := c.store.CreateTask(ctx, t); err != nil {
		return nil, err
	}

	for _, depID := range p.DependsOn {
		if err := c.resolver.AddDependency(t.ID, depID); err != nil {
			// Roll the half-created task back; edges added so far go with it.
			c.resolver.RemoveTask(t.ID)
			if derr := c.store.DeleteTask(ctx, t.ID); derr != nil {
				log.Printf("ERROR: failed to roll back task %s: %v", t.ID, derr)
			}
			return nil, err
		}
	}
	if len(p.DependsOn) > 0 {
		if err := c.store.SaveDependencies(ctx, t.ID, p.DependsOn); err != nil {
			return nil, err
		}
	}

	return t.Clone(), nil
}

// DeleteTask removes a task, its output, its dependency edges in both
// directions, and any review state. A running task is stopped first.
func (c *Coordinator) DeleteTask(ctx context.Context, id string) error {
	if err := c.StopTask(ctx, id); err != nil {
		return err
	}

	c.locks.Lock(id)
	c.queue.Remove(id)
	c.resolver.RemoveTask(id)
	c.buffer.Clear(id)
	c.clearReviewState(id)
	err := c.store.DeleteTask(ctx, id)
	c.locks.Unlock(id)
	c.locks.Forget(id)
	if err != nil {
		return err
	}

	// Dependents of the deleted task may have become unblocked.
	c.Schedule(ctx)
	return nil
}

// Schedule is the admission pass: eligible pending tasks move into the
// queue (priority descending, then FIFO by creation time), and the lane is
// filled if free. Safe to call from any event; cheap when nothing changed.
func (c *Coordinator) Schedule(ctx context.Context) {
	pending, err := c.store.ListTasks(ctx, store.TaskFilter{Status: task.StatusPending})
	if err != nil {
		log.Printf("ERROR: admission scan failed: %v", err)
		return
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	for _, t := range pending {
		res := c.resolver.Resolve(t.ID, c.statusFunc(ctx))
		if res.IsBlocked {
			continue
		}
		c.admit(ctx, t.ID)
	}

	c.fillLane(ctx)
}

// admit moves one pending task into the queue.
func (c *Coordinator) admit(ctx context.Context, id string) {
	c.locks.Lock(id)
	defer c.locks.Unlock(id)

	t, err := c.store.GetTask(ctx, id)
	if err != nil || t.Status != task.StatusPending {
		return
	}
	if err := c.setStatus(ctx, t, task.StatusQueued); err != nil {
		log.Printf("ERROR: failed to queue task %s: %v", id, err)
		return
	}
	c.queue.Enqueue(id)
}

// fillLane starts the head of the queue if the lane is free. The
// check-and-set on the current-task pointer is atomic, so two concurrent
// fills cannot both succeed.
func (c *Coordinator) fillLane(ctx context.Context) {
	id, ok := c.queue.Peek()
	if !ok {
		return
	}
	if !c.queue.TryAcquire(id) {
		return
	}
	c.queue.Remove(id)
	go c.runTask(ctx, id)
}

// runTask drives one task from queued into running and through its
// planning and execution phases. The lane is already owned by id.
func (c *Coordinator) runTask(ctx context.Context, id string) {
	c.locks.Lock(id)
	t, err := c.store.GetTask(ctx, id)
	if err != nil || t.Status != task.StatusQueued {
		// Deleted or stopped between admission and start: routine race.
		c.locks.Unlock(id)
		c.releaseLane(ctx, id)
		return
	}
	needsPlan := t.PlanningMode != task.PlanSkip && t.Plan.Status != task.PlanApproved
	if err := c.setStatus(ctx, t, task.StatusRunning); err != nil {
		c.locks.Unlock(id)
		c.releaseLane(ctx, id)
		return
	}
	c.locks.Unlock(id)

	if needsPlan {
		c.runPlanPhase(ctx, id)
		return
	}
	c.runExecutePhase(ctx, id)
}

// StopTask cancels a task from any non-terminal state. Cancellation is
// best effort on the executor side but authoritative here: the status
// moves to stopped and the lane is released regardless of whether the
// process acknowledges. Stopping an already-terminal task is a no-op.
func (c *Coordinator) StopTask(ctx context.Context, id string) error {
	c.locks.Lock(id)

	t, err := c.store.GetTask(ctx, id)
	if err != nil {
		c.locks.Unlock(id)
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	if t.Status.Terminal() {
		c.locks.Unlock(id)
		return nil
	}

	c.mu.Lock()
	h := c.handles[id]
	delete(c.handles, id)
	c.mu.Unlock()
	if h != nil {
		if err := h.Stop(); err != nil {
			log.Printf("WARNING: failed to stop agent for task %s: %v", id, err)
		}
	}

	c.queue.Remove(id)
	c.stopPreviewLocked(id)
	c.clearReviewState(id)
	serr := c.setStatus(ctx, t, task.StatusStopped)
	c.locks.Unlock(id)
	if serr != nil {
		return serr
	}

	c.releaseLane(ctx, id)
	return nil
}

// releaseLane frees the lane if id holds it and triggers the next
// admission. Release is conditional on ownership, so duplicate completion
// events release exactly once.
func (c *Coordinator) releaseLane(ctx context.Context, id string) {
	if c.queue.Release(id) {
		c.Schedule(ctx)
	}
}

// setStatus applies and persists a transition, then publishes it.
// Callers hold the task's keyed lock.
func (c *Coordinator) setStatus(ctx context.Context, t *task.Task, to task.Status) error {
	from := t.Status
	if err := task.Transition(t, to, c.now); err != nil {
		return err
	}
	if err := c.store.UpdateTaskStatus(ctx, t.ID, t.Status, t.StartedAt, t.CompletedAt); err != nil {
		return err
	}
	c.bus.Publish(events.TopicTask, events.TaskStatusChangedEvent{
		ID:        t.ID,
		From:      from,
		To:        to,
		Timestamp: c.now(),
	})
	return nil
}

// appendOutput buffers one executor output line, persists it, and
// publishes it for live observers.
func (c *Coordinator) appendOutput(ctx context.Context, id, text string) {
	line := c.buffer.Append(id, text)
	if err := c.store.AppendOutputLine(ctx, id, line); err != nil {
		log.Printf("WARNING: failed to persist output for task %s: %v", id, err)
	}
	c.bus.Publish(events.TopicTask, events.TaskOutputEvent{
		ID:        id,
		Index:     line.Index,
		Line:      text,
		Timestamp: line.Timestamp,
	})
}

// statusFunc adapts the store to the resolver's StatusFunc.
func (c *Coordinator) statusFunc(ctx context.Context) deps.StatusFunc {
	return func(id string) (task.Status, bool) {
		st, ok, err := c.store.TaskStatus(ctx, id)
		if err != nil {
			log.Printf("ERROR: status lookup for %s: %v", id, err)
			return "", false
		}
		return st, ok
	}
}

// Task returns the task by id.
func (c *Coordinator) Task(ctx context.Context, id string) (*task.Task, error) {
	return c.store.GetTask(ctx, id)
}

// TasksByStatus lists tasks with the given status.
func (c *Coordinator) TasksByStatus(ctx context.Context, st task.Status) ([]*task.Task, error) {
	return c.store.ListTasks(ctx, store.TaskFilter{Status: st})
}

// QueueSnapshot is a read-only view of the lane.
type QueueSnapshot struct {
	Queued        []string
	CurrentTaskID string
}

// Queue returns the current queue contents and lane occupant.
func (c *Coordinator) Queue() QueueSnapshot {
	return QueueSnapshot{
		Queued:        c.queue.Snapshot(),
		CurrentTaskID: c.queue.CurrentTaskID(),
	}
}

// Reorder replaces the queue order with the intersection of the current
// contents and newOrder.
func (c *Coordinator) Reorder(newOrder []string) {
	c.queue.Reorder(newOrder)
}

// BlockedTask pairs a task id with its dependency resolution.
type BlockedTask struct {
	ID         string
	Resolution deps.Resolution
}

// BlockedTasks returns every pending task that is currently blocked.
func (c *Coordinator) BlockedTasks(ctx context.Context) ([]BlockedTask, error) {
	pending, err := c.store.ListTasks(ctx, store.TaskFilter{Status: task.StatusPending})
	if err != nil {
		return nil, err
	}
	var blocked []BlockedTask
	for _, t := range pending {
		res := c.resolver.Resolve(t.ID, c.statusFunc(ctx))
		if res.IsBlocked {
			blocked = append(blocked, BlockedTask{ID: t.ID, Resolution: res})
		}
	}
	return blocked, nil
}

// ReplayOutput returns buffered output for a task from index from onward,
// falling back to the store when the in-memory buffer was lost to a restart.
func (c *Coordinator) ReplayOutput(ctx context.Context, id string, from int) ([]output.Line, error) {
	if lines := c.buffer.ReplayFrom(id, from); lines != nil {
		return lines, nil
	}
	return c.store.OutputLines(ctx, id, from)
}

// AddDependency declares an edge after creation. Cycle-forming edges are
// rejected with deps.ErrDependencyCycle.
func (c *Coordinator) AddDependency(ctx context.Context, taskID, depID string) error {
	if _, err := c.store.GetTask(ctx, taskID); err != nil {
		return err
	}
	if err := c.resolver.AddDependency(taskID, depID); err != nil {
		return err
	}
	return c.store.SaveDependencies(ctx, taskID, c.resolver.DependenciesOf(taskID))
}

// Resolve reports the blocking state of one task.
func (c *Coordinator) Resolve(ctx context.Context, id string) deps.Resolution {
	return c.resolver.Resolve(id, c.statusFunc(ctx))
}

// Restore rebuilds in-memory state from the store after a restart: the
// dependency graph, the queue, and lane ownership for tasks parked at a
// human gate. Tasks that were mid-execution when the process died are
// marked failed -- their agent process is gone.
func (c *Coordinator) Restore(ctx context.Context) error {
	declared, err := c.store.AllDependencies(ctx)
	if err != nil {
		return err
	}
	if err := c.resolver.Load(declared); err != nil {
		return err
	}

	// Streams that continue after the restart must not reuse indexes
	// already persisted.
	next, err := c.store.NextOutputIndexes(ctx)
	if err != nil {
		return err
	}
	for id, n := range next {
		c.buffer.Resume(id, n)
	}

	if running, err := c.store.ListTasks(ctx, store.TaskFilter{Status: task.StatusRunning}); err == nil {
		for _, t := range running {
			t.Error = "interrupted by restart"
			if uerr := c.store.UpdateTaskResult(ctx, t.ID, t.ProcessID, t.ExitCode, t.Error, t.Changes); uerr != nil {
				log.Printf("WARNING: failed to record interrupt for task %s: %v", t.ID, uerr)
			}
			if serr := c.setStatus(ctx, t, task.StatusFailed); serr != nil {
				log.Printf("WARNING: failed to fail interrupted task %s: %v", t.ID, serr)
			}
		}
	}

	for _, st := range []task.Status{task.StatusAwaitingApproval, task.StatusReview} {
		parked, err := c.store.ListTasks(ctx, store.TaskFilter{Status: st})
		if err != nil {
			return err
		}
		for _, t := range parked {
			// A parked task still owns the lane.
			c.queue.SetCurrentTask(t.ID)
			if st == task.StatusReview {
				c.ensureReviewState(t.ID)
			}
		}
	}

	queued, err := c.store.ListTasks(ctx, store.TaskFilter{Status: task.StatusQueued})
	if err != nil {
		return err
	}
	for _, t := range queued {
		c.queue.Enqueue(t.ID)
	}

	c.Schedule(ctx)
	return nil
}
