// Package automode schedules project features concurrently: up to
// maxConcurrency features run at once, each in its own worktree, and
// admission pauses project-wide while the provider is rate-limited.
package automode

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/taskdeck/taskdeck/internal/events"
	"github.com/taskdeck/taskdeck/internal/executor"
	"github.com/taskdeck/taskdeck/internal/feature"
	"github.com/taskdeck/taskdeck/internal/output"
	"github.com/taskdeck/taskdeck/internal/worktree"
)

// DefaultMaxConcurrency bounds concurrent features when the config gives none.
const DefaultMaxConcurrency = 3

// Store is the feature persistence the scheduler depends on.
type Store interface {
	CreateFeature(ctx context.Context, f *feature.Feature) error
	GetFeature(ctx context.Context, id string) (*feature.Feature, error)
	UpdateFeature(ctx context.Context, f *feature.Feature) error
	DeleteFeature(ctx context.Context, id string) error
	ListFeatures(ctx context.Context, projectID string) ([]*feature.Feature, error)
}

// Worktrees is the subset of the worktree manager the scheduler uses.
type Worktrees interface {
	Create(featureID string) (*worktree.Tree, error)
	Merge(t *worktree.Tree) (*worktree.MergeResult, error)
	Cleanup(t *worktree.Tree) error
	KeepBranch(t *worktree.Tree) error
}

// Config configures a project's auto-mode scheduler.
type Config struct {
	ProjectID      string
	MaxConcurrency int
	// PlanFirst runs a planning invocation before execution.
	PlanFirst bool
	// RequirePlanApproval parks each planned feature in waiting_approval
	// until ApprovePlan or RejectPlan.
	RequirePlanApproval bool
}

// Scheduler is the per-project auto-mode coordinator.
type Scheduler struct {
	cfg       Config
	store     Store
	bus       *events.Bus
	exec      executor.Executor
	worktrees Worktrees
	buffer    *output.Buffer
	slots     *semaphore.Weighted
	now       func() time.Time

	mu          sync.Mutex
	running     map[string]*runningFeature
	plans       map[string]string // generated plan content per parked feature
	rateLimited bool
	resetAt     time.Time
	resumeTimer *time.Timer
	completed   int
	failed      int
}

type runningFeature struct {
	handle executor.Handle
	tree   *worktree.Tree
	since  time.Time
}

// New creates a Scheduler.
func New(cfg Config, st Store, bus *events.Bus, exec executor.Executor, wt Worktrees) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		bus:       bus,
		exec:      exec,
		worktrees: wt,
		buffer:    output.NewBuffer(),
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		now:       time.Now,
		running:   make(map[string]*runningFeature),
		plans:     make(map[string]string),
	}
}

// EnqueueFeature adds a feature to the project backlog.
func (s *Scheduler) EnqueueFeature(ctx context.Context, description string, priority int) (*feature.Feature, error) {
	if description == "" {
		return nil, fmt.Errorf("feature description is required")
	}
	f := &feature.Feature{
		ID:          uuid.NewString(),
		ProjectID:   s.cfg.ProjectID,
		Description: description,
		Status:      feature.StatusBacklog,
		Priority:    priority,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateFeature(ctx, f); err != nil {
		return nil, err
	}
	return f.Clone(), nil
}

// DequeueFeature removes a not-yet-running feature from the backlog.
func (s *Scheduler) DequeueFeature(ctx context.Context, id string) error {
	f, err := s.store.GetFeature(ctx, id)
	if err != nil {
		return err
	}
	if f.Status == feature.StatusInProgress || f.Status == feature.StatusWaitingApproval {
		return fmt.Errorf("feature %s is %s; stop it first", id, f.Status)
	}
	return s.store.DeleteFeature(ctx, id)
}

// Restore reconciles persisted feature state after a restart. Features
// left in_progress or waiting_approval by a dead process have no live
// agent, slot, or plan anymore, so they return to pending and re-run;
// a scheduling pass then re-admits the backlog.
func (s *Scheduler) Restore(ctx context.Context) error {
	features, err := s.store.ListFeatures(ctx, s.cfg.ProjectID)
	if err != nil {
		return err
	}
	for _, f := range features {
		if f.Status != feature.StatusInProgress && f.Status != feature.StatusWaitingApproval {
			continue
		}
		f.Status = feature.StatusPending
		f.WorktreePath = ""
		if err := s.store.UpdateFeature(ctx, f); err != nil {
			return err
		}
	}
	s.Tick(ctx)
	return nil
}

// Tick is the scheduling pass: it tries to admit every backlog/pending
// feature in priority order. Features that don't fit stay pending and are
// retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	features, err := s.store.ListFeatures(ctx, s.cfg.ProjectID)
	if err != nil {
		log.Printf("ERROR: auto-mode scan failed: %v", err)
		return
	}
	for _, f := range features {
		if f.Status != feature.StatusBacklog && f.Status != feature.StatusPending {
			continue
		}
		if err := s.ExecuteFeature(ctx, f.ID); err != nil {
			log.Printf("WARNING: failed to admit feature %s: %v", f.ID, err)
		}
	}
}

// ExecuteFeature admits one feature into execution if a concurrency slot
// is free and the project is not rate-limited; otherwise the feature is
// left pending for the next tick. Admission is a single check-and-set:
// two concurrent calls cannot both claim the last slot.
func (s *Scheduler) ExecuteFeature(ctx context.Context, id string) error {
	f, err := s.store.GetFeature(ctx, id)
	if err != nil {
		return err
	}
	switch f.Status {
	case feature.StatusBacklog, feature.StatusPending:
	default:
		return fmt.Errorf("feature %s is %s, not admittable", id, f.Status)
	}

	s.mu.Lock()
	if s.rateLimited || !s.slots.TryAcquire(1) {
		s.mu.Unlock()
		return s.markPending(ctx, f)
	}
	s.mu.Unlock()

	tree, err := s.worktrees.Create(f.ID)
	if err != nil {
		s.slots.Release(1)
		return fmt.Errorf("failed to create worktree for feature %s: %w", f.ID, err)
	}

	f.Status = feature.StatusInProgress
	f.WorktreePath = tree.Path
	f.Sessions++
	if err := s.store.UpdateFeature(ctx, f); err != nil {
		s.slots.Release(1)
		if cerr := s.worktrees.Cleanup(tree); cerr != nil {
			log.Printf("WARNING: failed to clean worktree for feature %s: %v", f.ID, cerr)
		}
		return err
	}

	s.mu.Lock()
	s.running[f.ID] = &runningFeature{tree: tree, since: s.now()}
	s.mu.Unlock()

	s.bus.Publish(events.TopicFeature, events.FeatureStartedEvent{
		ID:        f.ID,
		ProjectID: s.cfg.ProjectID,
		Worktree:  tree.Path,
		Timestamp: s.now(),
	})
	s.publishProgress(ctx)

	phase := executor.PhaseExecute
	if s.cfg.PlanFirst && s.plan(f.ID) == "" {
		phase = executor.PhasePlan
	}
	go s.run(ctx, f.Clone(), tree, phase)
	return nil
}

// markPending records that an admissible feature is waiting for a slot.
func (s *Scheduler) markPending(ctx context.Context, f *feature.Feature) error {
	if f.Status == feature.StatusPending {
		return nil
	}
	f.Status = feature.StatusPending
	return s.store.UpdateFeature(ctx, f)
}

// run drives one executor invocation for a feature and settles the outcome.
func (s *Scheduler) run(ctx context.Context, f *feature.Feature, tree *worktree.Tree, phase executor.Phase) {
	req := executor.Request{
		TaskID:      f.ID,
		Description: f.Description,
		WorkDir:     tree.Path,
		Phase:       phase,
		Plan:        s.plan(f.ID),
	}

	h, err := s.exec.Start(ctx, req)
	if err != nil {
		s.settleFailed(ctx, f.ID, fmt.Sprintf("failed to start agent: %v", err))
		return
	}
	s.mu.Lock()
	if rf, ok := s.running[f.ID]; ok {
		rf.handle = h
	}
	s.mu.Unlock()

	var planContent, errMsg string
	var resetAt time.Time
	rateLimited := false
	exitCode := 0
	for ev := range h.Events() {
		switch ev.Type {
		case executor.EventTextDelta:
			line := s.buffer.Append(f.ID, ev.Text)
			s.bus.Publish(events.TopicFeature, events.TaskOutputEvent{
				ID: f.ID, Index: line.Index, Line: ev.Text, Timestamp: line.Timestamp,
			})
		case executor.EventToolUse:
			s.buffer.Append(f.ID, "[tool] "+ev.Tool)
		case executor.EventPlanGenerated:
			planContent = ev.Plan
		case executor.EventRateLimitHit:
			rateLimited = true
			errMsg = ev.Text
			resetAt = ev.ResetAt
		case executor.EventError:
			errMsg = ev.Text
		case executor.EventComplete:
			exitCode = ev.ExitCode
		}
	}

	if rateLimited {
		s.enterRateLimit(ctx, resetAt)
		s.requeue(ctx, f.ID)
		return
	}

	if phase == executor.PhasePlan {
		s.settlePlan(ctx, f.ID, tree, planContent, errMsg, exitCode)
		return
	}

	if errMsg != "" || exitCode != 0 {
		if errMsg == "" {
			errMsg = fmt.Sprintf("agent exited with code %d", exitCode)
		}
		s.settleFailed(ctx, f.ID, errMsg)
		return
	}
	s.settleCompleted(ctx, f.ID, tree)
}

// settlePlan stores the generated plan and either parks the feature for
// approval or continues straight into execution.
func (s *Scheduler) settlePlan(ctx context.Context, id string, tree *worktree.Tree, plan, errMsg string, exitCode int) {
	if errMsg != "" || exitCode != 0 || plan == "" {
		if errMsg == "" {
			errMsg = fmt.Sprintf("planning agent produced no plan (exit code %d)", exitCode)
		}
		s.settleFailed(ctx, id, errMsg)
		return
	}

	s.mu.Lock()
	s.plans[id] = plan
	s.mu.Unlock()

	if !s.cfg.RequirePlanApproval {
		f, err := s.store.GetFeature(ctx, id)
		if err != nil {
			s.settleFailed(ctx, id, err.Error())
			return
		}
		go s.run(ctx, f, tree, executor.PhaseExecute)
		return
	}

	f, err := s.store.GetFeature(ctx, id)
	if err != nil || f.Status != feature.StatusInProgress {
		return
	}
	f.Status = feature.StatusWaitingApproval
	if err := s.store.UpdateFeature(ctx, f); err != nil {
		log.Printf("ERROR: failed to park feature %s for approval: %v", id, err)
	}
	// The slot stays held; ApprovePlan or RejectPlan settles it.
}

// ApprovePlan resumes a feature parked in waiting_approval.
func (s *Scheduler) ApprovePlan(ctx context.Context, id string) error {
	f, err := s.store.GetFeature(ctx, id)
	if err != nil {
		return err
	}
	if f.Status != feature.StatusWaitingApproval {
		return fmt.Errorf("feature %s is %s, not waiting for approval", id, f.Status)
	}

	s.mu.Lock()
	rf := s.running[id]
	s.mu.Unlock()
	if rf == nil {
		return fmt.Errorf("feature %s has no live worktree; re-run it", id)
	}

	f.Status = feature.StatusInProgress
	if err := s.store.UpdateFeature(ctx, f); err != nil {
		return err
	}
	go s.run(ctx, f.Clone(), rf.tree, executor.PhaseExecute)
	return nil
}

// RejectPlan returns a parked feature to pending, freeing its slot.
// The discarded plan is dropped; the next admission regenerates it.
func (s *Scheduler) RejectPlan(ctx context.Context, id string) error {
	f, err := s.store.GetFeature(ctx, id)
	if err != nil {
		return err
	}
	if f.Status != feature.StatusWaitingApproval {
		return fmt.Errorf("feature %s is %s, not waiting for approval", id, f.Status)
	}

	s.mu.Lock()
	delete(s.plans, id)
	s.mu.Unlock()

	s.releaseFeature(id, true)
	f.Status = feature.StatusPending
	f.WorktreePath = ""
	if err := s.store.UpdateFeature(ctx, f); err != nil {
		return err
	}
	s.Tick(ctx)
	return nil
}

// StopFeature cancels a running or parked feature and frees its slot.
// Authoritative on the scheduler side regardless of whether the agent
// process acknowledges the kill.
func (s *Scheduler) StopFeature(ctx context.Context, id string) error {
	f, err := s.store.GetFeature(ctx, id)
	if err != nil {
		return err
	}
	if f.Status != feature.StatusInProgress && f.Status != feature.StatusWaitingApproval {
		return fmt.Errorf("feature %s is %s, not running", id, f.Status)
	}

	s.mu.Lock()
	rf := s.running[id]
	s.mu.Unlock()
	if rf != nil && rf.handle != nil {
		if err := rf.handle.Stop(); err != nil {
			log.Printf("WARNING: failed to stop agent for feature %s: %v", id, err)
		}
	}

	s.releaseFeature(id, true)
	f.Status = feature.StatusFailed
	f.Error = "stopped by user"
	f.CompletedAt = s.now()
	if err := s.store.UpdateFeature(ctx, f); err != nil {
		return err
	}

	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
	s.publishProgress(ctx)
	s.Tick(ctx)
	return nil
}

// settleCompleted merges the feature's worktree and marks it completed.
// A merge conflict keeps the branch for manual resolution but still
// counts the feature as completed work.
func (s *Scheduler) settleCompleted(ctx context.Context, id string, tree *worktree.Tree) {
	res, err := s.worktrees.Merge(tree)
	if err != nil {
		s.settleFailed(ctx, id, fmt.Sprintf("merge error: %v", err))
		return
	}
	if res.Merged {
		if cerr := s.worktrees.Cleanup(tree); cerr != nil {
			log.Printf("WARNING: failed to clean worktree for feature %s: %v", id, cerr)
		}
	} else {
		log.Printf("WARNING: merge conflict for feature %s: %v", id, res.Err)
		if kerr := s.worktrees.KeepBranch(tree); kerr != nil {
			log.Printf("WARNING: failed to detach worktree for feature %s: %v", id, kerr)
		}
	}

	var started time.Time
	s.mu.Lock()
	if rf := s.running[id]; rf != nil {
		started = rf.since
	}
	delete(s.plans, id)
	s.mu.Unlock()
	s.releaseFeature(id, false)

	f, err := s.store.GetFeature(ctx, id)
	if err != nil || f.Status.Terminal() {
		s.Tick(ctx)
		return
	}
	f.Status = feature.StatusCompleted
	f.CompletedAt = s.now()
	if uerr := s.store.UpdateFeature(ctx, f); uerr != nil {
		log.Printf("ERROR: failed to complete feature %s: %v", id, uerr)
	}

	s.mu.Lock()
	s.completed++
	s.mu.Unlock()

	s.bus.Publish(events.TopicFeature, events.FeatureCompletedEvent{
		ID:        id,
		ProjectID: s.cfg.ProjectID,
		Duration:  s.now().Sub(started),
		Timestamp: s.now(),
	})
	s.publishProgress(ctx)
	s.Tick(ctx)
}

// settleFailed records the error and marks the feature failed.
// A feature already terminal (stopped while its event stream drained) is
// left alone so the failure isn't counted twice.
func (s *Scheduler) settleFailed(ctx context.Context, id, errMsg string) {
	s.mu.Lock()
	delete(s.plans, id)
	s.mu.Unlock()
	s.releaseFeature(id, true)

	f, err := s.store.GetFeature(ctx, id)
	if err != nil || f.Status.Terminal() {
		s.Tick(ctx)
		return
	}
	f.Status = feature.StatusFailed
	f.Error = errMsg
	f.CompletedAt = s.now()
	if uerr := s.store.UpdateFeature(ctx, f); uerr != nil {
		log.Printf("ERROR: failed to fail feature %s: %v", id, uerr)
	}

	s.mu.Lock()
	s.failed++
	s.mu.Unlock()

	s.bus.Publish(events.TopicFeature, events.FeatureFailedEvent{
		ID:        id,
		ProjectID: s.cfg.ProjectID,
		Err:       fmt.Errorf("%s", errMsg),
		Timestamp: s.now(),
	})
	s.publishProgress(ctx)
	s.Tick(ctx)
}

// requeue returns a rate-limited feature to pending without counting a
// failure: the rate limit is a property of the project, not the feature.
func (s *Scheduler) requeue(ctx context.Context, id string) {
	s.releaseFeature(id, true)

	f, err := s.store.GetFeature(ctx, id)
	if err != nil {
		return
	}
	f.Status = feature.StatusPending
	f.WorktreePath = ""
	if err := s.store.UpdateFeature(ctx, f); err != nil {
		log.Printf("ERROR: failed to requeue feature %s: %v", id, err)
	}
	s.publishProgress(ctx)
}

// releaseFeature frees the feature's slot exactly once and optionally
// cleans its worktree.
func (s *Scheduler) releaseFeature(id string, cleanup bool) {
	s.mu.Lock()
	rf, ok := s.running[id]
	delete(s.running, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.slots.Release(1)
	if cleanup && rf.tree != nil {
		if err := s.worktrees.Cleanup(rf.tree); err != nil {
			log.Printf("WARNING: failed to clean worktree for feature %s: %v", id, err)
		}
	}
}

// enterRateLimit pauses project-wide admission and schedules the resume.
// Already-running features are unaffected. Re-entry while paused keeps
// the later reset time.
func (s *Scheduler) enterRateLimit(ctx context.Context, providerReset time.Time) {
	resumeAt := executor.ResumeAt(s.now(), providerReset)

	s.mu.Lock()
	if s.rateLimited && !resumeAt.After(s.resetAt) {
		s.mu.Unlock()
		return
	}
	s.rateLimited = true
	s.resetAt = resumeAt
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
	}
	// Scheduled resume, not a blocking sleep.
	s.resumeTimer = time.AfterFunc(time.Until(resumeAt), func() { s.exitRateLimit(ctx) })
	s.mu.Unlock()

	s.bus.Publish(events.TopicRateLimit, events.RateLimitEnteredEvent{
		ProjectID: s.cfg.ProjectID,
		ResetAt:   resumeAt,
		Timestamp: s.now(),
	})
}

// exitRateLimit clears the pause and resumes admission.
func (s *Scheduler) exitRateLimit(ctx context.Context) {
	s.mu.Lock()
	if !s.rateLimited {
		s.mu.Unlock()
		return
	}
	s.rateLimited = false
	s.resetAt = time.Time{}
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	s.mu.Unlock()

	s.bus.Publish(events.TopicRateLimit, events.RateLimitExitedEvent{
		ProjectID: s.cfg.ProjectID,
		Timestamp: s.now(),
	})
	s.Tick(ctx)
}

// Snapshot is a read-only view of the project's auto-mode state.
type Snapshot struct {
	ProjectID      string
	MaxConcurrency int
	Running        []string
	RateLimited    bool
	ResetAt        time.Time
	Completed      int
	Failed         int
}

// State returns the current scheduler snapshot.
func (s *Scheduler) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := make([]string, 0, len(s.running))
	for id := range s.running {
		running = append(running, id)
	}
	return Snapshot{
		ProjectID:      s.cfg.ProjectID,
		MaxConcurrency: s.cfg.MaxConcurrency,
		Running:        running,
		RateLimited:    s.rateLimited,
		ResetAt:        s.resetAt,
		Completed:      s.completed,
		Failed:         s.failed,
	}
}

// Output returns buffered output lines for a feature from index from.
func (s *Scheduler) Output(id string, from int) []output.Line {
	return s.buffer.ReplayFrom(id, from)
}

// Shutdown stops every running feature, bounded-parallel.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.StopFeature(gctx, id)
		})
	}
	return g.Wait()
}

func (s *Scheduler) plan(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plans[id]
}

func (s *Scheduler) publishProgress(ctx context.Context) {
	features, err := s.store.ListFeatures(ctx, s.cfg.ProjectID)
	if err != nil {
		return
	}
	var backlog int
	for _, f := range features {
		if f.Status == feature.StatusBacklog || f.Status == feature.StatusPending {
			backlog++
		}
	}

	s.mu.Lock()
	running := len(s.running)
	completed := s.completed
	failed := s.failed
	s.mu.Unlock()

	s.bus.Publish(events.TopicFeature, events.FeatureProgressEvent{
		ProjectID: s.cfg.ProjectID,
		Backlog:   backlog,
		Running:   running,
		Completed: completed,
		Failed:    failed,
		Timestamp: s.now(),
	})
}
