package store

import (
	"context"
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/internal/output"
	"github.com/taskdeck/taskdeck/internal/task"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTask(id string) *task.Task {
	return &task.Task{
		ID:              id,
		Description:     "implement " + id,
		AgentType:       task.AgentFeature,
		TargetDirectory: "/tmp/repo",
		BranchName:      "work/" + id,
		Parameters:      map[string]string{"run_script": "npm start"},
		Priority:        1,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
		Status:          task.StatusPending,
		PlanningMode:    task.PlanLite,
		RequireReview:   true,
		Plan:            task.PlanSpecRecord{Status: task.PlanPending},
	}
}

func TestCreateGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := newTestTask("t1")
	if err := s.CreateTask(ctx, want); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Description != want.Description {
		t.Errorf("Description = %q", got.Description)
	}
	if got.AgentType != task.AgentFeature {
		t.Errorf("AgentType = %q", got.AgentType)
	}
	if got.Parameters["run_script"] != "npm start" {
		t.Errorf("Parameters = %v", got.Parameters)
	}
	if !got.RequireReview || got.RequirePlanApproval {
		t.Errorf("flags = approval:%v review:%v", got.RequirePlanApproval, got.RequireReview)
	}
	if got.Plan.Status != task.PlanPending {
		t.Errorf("Plan.Status = %q", got.Plan.Status)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTask(context.Background(), "ghost"); !IsNotFound(err) {
		t.Fatalf("err = %v, want not-found", err)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := newTestTask("t1")
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatal(err)
	}

	started := time.Now().UTC().Truncate(time.Second)
	if err := s.UpdateTaskStatus(ctx, "t1", task.StatusRunning, started, time.Time{}); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusRunning {
		t.Errorf("Status = %q", got.Status)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if !got.CompletedAt.IsZero() {
		t.Errorf("CompletedAt = %v, want zero", got.CompletedAt)
	}

	st, ok, err := s.TaskStatus(ctx, "t1")
	if err != nil || !ok || st != task.StatusRunning {
		t.Errorf("TaskStatus = (%q, %v, %v)", st, ok, err)
	}
	if _, ok, err := s.TaskStatus(ctx, "ghost"); err != nil || ok {
		t.Errorf("TaskStatus(ghost) = (_, %v, %v), want ok=false", ok, err)
	}
}

func TestUpdateTaskPlanAndResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, newTestTask("t1")); err != nil {
		t.Fatal(err)
	}

	plan := task.PlanSpecRecord{
		Status:      task.PlanGenerated,
		Content:     "1. write code",
		Version:     2,
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.UpdateTaskPlan(ctx, "t1", plan); err != nil {
		t.Fatalf("UpdateTaskPlan: %v", err)
	}

	changes := task.FileChanges{
		Created:  []string{"a.go", "b.go"},
		Modified: []string{"c.go"},
	}
	if err := s.UpdateTaskResult(ctx, "t1", 1234, 0, "", changes); err != nil {
		t.Fatalf("UpdateTaskResult: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Plan.Status != task.PlanGenerated || got.Plan.Content != "1. write code" || got.Plan.Version != 2 {
		t.Errorf("Plan = %+v", got.Plan)
	}
	if got.ProcessID != 1234 {
		t.Errorf("ProcessID = %d", got.ProcessID)
	}
	if len(got.Changes.Created) != 2 || got.Changes.Modified[0] != "c.go" || len(got.Changes.Deleted) != 0 {
		t.Errorf("Changes = %+v", got.Changes)
	}
}

func TestFeedbackOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, newTestTask("t1")); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"first", "second", "third"} {
		if err := s.AppendFeedback(ctx, "t1", msg); err != nil {
			t.Fatalf("AppendFeedback(%s): %v", msg, err)
		}
	}

	got, err := s.Feedback(ctx, "t1")
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Errorf("entry %d = %q, want %q", i, got[i].Content, want)
		}
	}

	// Feedback must also ride along on GetTask.
	tk, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tk.FeedbackHistory) != 3 {
		t.Errorf("FeedbackHistory = %d entries", len(tk.FeedbackHistory))
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestTask("a")
	b := newTestTask("b")
	b.Status = task.StatusRunning
	b.AgentType = task.AgentBugfix
	c := newTestTask("c")
	c.Status = task.StatusRunning
	for _, tk := range []*task.Task{a, b, c} {
		if err := s.CreateTask(ctx, tk); err != nil {
			t.Fatal(err)
		}
	}

	running, err := s.ListTasks(ctx, TaskFilter{Status: task.StatusRunning})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(running) != 2 {
		t.Errorf("running = %d tasks, want 2", len(running))
	}

	bugfix, err := s.ListTasks(ctx, TaskFilter{AgentType: task.AgentBugfix})
	if err != nil {
		t.Fatal(err)
	}
	if len(bugfix) != 1 || bugfix[0].ID != "b" {
		t.Errorf("bugfix filter = %v", bugfix)
	}

	all, err := s.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("unfiltered = %d tasks, want 3", len(all))
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, newTestTask("t1")); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendFeedback(ctx, "t1", "note"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendOutputLine(ctx, "t1", output.Line{Index: 0, Text: "hello", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := s.GetTask(ctx, "t1"); !IsNotFound(err) {
		t.Errorf("task survived delete: %v", err)
	}
	lines, err := s.OutputLines(ctx, "t1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 0 {
		t.Errorf("output survived delete: %v", lines)
	}
}

func TestSaveAndLoadDependencies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateTask(ctx, newTestTask(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SaveDependencies(ctx, "c", []string{"a", "b"}); err != nil {
		t.Fatalf("SaveDependencies: %v", err)
	}
	if err := s.SaveDependencies(ctx, "b", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	// Re-saving replaces, not appends.
	if err := s.SaveDependencies(ctx, "c", []string{"b"}); err != nil {
		t.Fatal(err)
	}

	all, err := s.AllDependencies(ctx)
	if err != nil {
		t.Fatalf("AllDependencies: %v", err)
	}
	if len(all["c"]) != 1 || all["c"][0] != "b" {
		t.Errorf("deps of c = %v, want [b]", all["c"])
	}
	if len(all["b"]) != 1 || all["b"][0] != "a" {
		t.Errorf("deps of b = %v, want [a]", all["b"])
	}
}

func TestNextOutputIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		if err := s.CreateTask(ctx, newTestTask(id)); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		if err := s.AppendOutputLine(ctx, "t1", output.Line{Index: i, Text: "line", Timestamp: now}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendOutputLine(ctx, "t2", output.Line{Index: 0, Text: "line", Timestamp: now}); err != nil {
		t.Fatal(err)
	}

	next, err := s.NextOutputIndexes(ctx)
	if err != nil {
		t.Fatalf("NextOutputIndexes: %v", err)
	}
	if next["t1"] != 3 || next["t2"] != 1 {
		t.Errorf("next = %v, want t1:3 t2:1", next)
	}
	if _, ok := next["ghost"]; ok {
		t.Error("task without output reported")
	}
}

func TestOutputLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateTask(ctx, newTestTask("t1")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 4; i++ {
		line := output.Line{Index: i, Text: "line", Timestamp: now}
		if err := s.AppendOutputLine(ctx, "t1", line); err != nil {
			t.Fatalf("AppendOutputLine: %v", err)
		}
	}

	lines, err := s.OutputLines(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("OutputLines: %v", err)
	}
	if len(lines) != 2 || lines[0].Index != 2 || lines[1].Index != 3 {
		t.Errorf("lines = %v", lines)
	}

	if err := s.ClearOutput(ctx, "t1"); err != nil {
		t.Fatalf("ClearOutput: %v", err)
	}
	lines, err = s.OutputLines(ctx, "t1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 0 {
		t.Errorf("lines after clear = %v", lines)
	}
}
