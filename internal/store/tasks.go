package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/task"
)

// TaskFilter narrows ListTasks. Zero-valued fields are ignored.
type TaskFilter struct {
	Status       task.Status
	AgentType    task.AgentType
	PlanningMode task.PlanningMode
	BranchName   string
}

// CreateTask inserts a new task record. The id must be unique.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *task.Task) error {
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, description, agent_type, target_directory, branch_name,
			parameters, priority, status, planning_mode,
			require_plan_approval, require_review,
			plan_status, plan_content, plan_version,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Description, string(t.AgentType), t.TargetDirectory, t.BranchName,
		string(params), t.Priority, string(t.Status), string(t.PlanningMode),
		boolToInt(t.RequirePlanApproval), boolToInt(t.RequireReview),
		string(t.Plan.Status), t.Plan.Content, t.Plan.Version,
		t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id, including feedback history.
// Returns ErrNotFound if no record exists.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	history, err := s.Feedback(ctx, id)
	if err != nil {
		return nil, err
	}
	t.FeedbackHistory = history
	return t, nil
}

// TaskStatus returns just the status column for id.
// The boolean is false when the task does not exist.
func (s *SQLiteStore) TaskStatus(ctx context.Context, id string) (task.Status, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query task status: %w", err)
	}
	return task.Status(status), true, nil
}

// UpdateTaskStatus atomically updates status and its owned timestamps.
// startedAt/completedAt are written only when non-zero.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status task.Status, startedAt, completedAt time.Time) error {
	sets := []string{"status = ?"}
	args := []interface{}{string(status)}
	if !startedAt.IsZero() {
		sets = append(sets, "started_at = ?")
		args = append(args, startedAt.UTC())
	}
	if !completedAt.IsZero() {
		sets = append(sets, "completed_at = ?")
		args = append(args, completedAt.UTC())
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return requireRow(res, id)
}

// UpdateTaskPlan atomically updates the plan sub-record.
func (s *SQLiteStore) UpdateTaskPlan(ctx context.Context, id string, plan task.PlanSpecRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET plan_status = ?, plan_content = ?, plan_version = ?,
			plan_generated_at = ?, plan_reviewed_at = ?
		WHERE id = ?
	`, string(plan.Status), plan.Content, plan.Version,
		nullTime(plan.GeneratedAt), nullTime(plan.ReviewedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update task plan: %w", err)
	}
	return requireRow(res, id)
}

// UpdateTaskResult records execution artifacts after the executor exits.
func (s *SQLiteStore) UpdateTaskResult(ctx context.Context, id string, processID, exitCode int, taskErr string, changes task.FileChanges) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET process_id = ?, exit_code = ?, error = ?,
			files_created = ?, files_modified = ?, files_deleted = ?
		WHERE id = ?
	`, processID, exitCode, taskErr,
		strings.Join(changes.Created, "\n"),
		strings.Join(changes.Modified, "\n"),
		strings.Join(changes.Deleted, "\n"), id)
	if err != nil {
		return fmt.Errorf("failed to update task result: %w", err)
	}
	return requireRow(res, id)
}

// AppendFeedback appends one reviewer message to the task's history.
// A single INSERT, so no read-modify-write race with concurrent appenders.
func (s *SQLiteStore) AppendFeedback(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (task_id, content)
		SELECT id, ? FROM tasks WHERE id = ?
	`, content, id)
	if err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return requireRow(res, id)
}

// Feedback returns the task's feedback history, oldest first.
func (s *SQLiteStore) Feedback(ctx context.Context, id string) ([]task.FeedbackEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, created_at FROM feedback
		WHERE task_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var history []task.FeedbackEntry
	for rows.Next() {
		var entry task.FeedbackEntry
		if err := rows.Scan(&entry.Content, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

// DeleteTask removes the task record. Dependencies, feedback, and output
// lines cascade. Returns ErrNotFound if the id is unknown.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return requireRow(res, id)
}

// ListTasks returns tasks matching the filter, oldest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*task.Task, error) {
	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.AgentType != "" {
		conds = append(conds, "agent_type = ?")
		args = append(args, string(filter.AgentType))
	}
	if filter.PlanningMode != "" {
		conds = append(conds, "planning_mode = ?")
		args = append(args, string(filter.PlanningMode))
	}
	if filter.BranchName != "" {
		conds = append(conds, "branch_name = ?")
		args = append(args, filter.BranchName)
	}

	query := taskSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SaveDependencies replaces the declared dependency set for a task.
func (s *SQLiteStore) SaveDependencies(ctx context.Context, id string, dependsOn []string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for _, depID := range dependsOn {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)
		`, id, depID); err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", id, depID, err)
		}
	}
	return tx.Commit()
}

// AllDependencies returns every declared edge, keyed by task id.
func (s *SQLiteStore) AllDependencies(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, depends_on_id FROM task_dependencies`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	declared := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		declared[taskID] = append(declared[taskID], depID)
	}
	return declared, rows.Err()
}

const taskSelect = `
	SELECT id, description, agent_type, target_directory, COALESCE(branch_name, ''),
		COALESCE(parameters, ''), priority, status, planning_mode,
		require_plan_approval, require_review,
		plan_status, COALESCE(plan_content, ''), plan_version,
		plan_generated_at, plan_reviewed_at,
		process_id, exit_code, COALESCE(error, ''),
		COALESCE(files_created, ''), COALESCE(files_modified, ''), COALESCE(files_deleted, ''),
		created_at, started_at, completed_at
	FROM tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	t := &task.Task{}
	var agentType, status, planningMode, planStatus, params string
	var requireApproval, requireReview int
	var planGenerated, planReviewed, startedAt, completedAt sql.NullTime
	var created, modified, deleted string

	err := row.Scan(&t.ID, &t.Description, &agentType, &t.TargetDirectory, &t.BranchName,
		&params, &t.Priority, &status, &planningMode,
		&requireApproval, &requireReview,
		&planStatus, &t.Plan.Content, &t.Plan.Version,
		&planGenerated, &planReviewed,
		&t.ProcessID, &t.ExitCode, &t.Error,
		&created, &modified, &deleted,
		&t.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.AgentType = task.AgentType(agentType)
	t.Status = task.Status(status)
	t.PlanningMode = task.PlanningMode(planningMode)
	t.Plan.Status = task.PlanStatus(planStatus)
	t.RequirePlanApproval = requireApproval != 0
	t.RequireReview = requireReview != 0
	if planGenerated.Valid {
		t.Plan.GeneratedAt = planGenerated.Time
	}
	if planReviewed.Valid {
		t.Plan.ReviewedAt = planReviewed.Time
	}
	if startedAt.Valid {
		t.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	if params != "" {
		if err := json.Unmarshal([]byte(params), &t.Parameters); err != nil {
			return nil, fmt.Errorf("failed to decode parameters: %w", err)
		}
	}
	t.Changes = task.FileChanges{
		Created:  splitLines(created),
		Modified: splitLines(modified),
		Deleted:  splitLines(deleted),
	}
	return t, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}
