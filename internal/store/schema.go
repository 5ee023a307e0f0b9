package store

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		target_directory TEXT NOT NULL,
		branch_name TEXT,
		parameters TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		planning_mode TEXT NOT NULL DEFAULT 'skip',
		require_plan_approval INTEGER NOT NULL DEFAULT 0,
		require_review INTEGER NOT NULL DEFAULT 0,
		plan_status TEXT NOT NULL DEFAULT 'pending',
		plan_content TEXT,
		plan_version INTEGER NOT NULL DEFAULT 0,
		plan_generated_at DATETIME,
		plan_reviewed_at DATETIME,
		process_id INTEGER NOT NULL DEFAULT 0,
		exit_code INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		files_created TEXT,
		files_modified TEXT,
		files_deleted TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_agent_type ON tasks(agent_type);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_feedback_task ON feedback(task_id, created_at);

	CREATE TABLE IF NOT EXISTS output_lines (
		task_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (task_id, idx),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS features (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		worktree_path TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		sessions INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_features_project ON features(project_id, status);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
