package store

import (
	"context"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/output"
)

// AppendOutputLine persists one output line at the given index.
func (s *SQLiteStore) AppendOutputLine(ctx context.Context, taskID string, line output.Line) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO output_lines (task_id, idx, content, created_at)
		VALUES (?, ?, ?, ?)
	`, taskID, line.Index, line.Text, line.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append output line: %w", err)
	}
	return nil
}

// OutputLines returns the task's persisted output from index from onward.
func (s *SQLiteStore) OutputLines(ctx context.Context, taskID string, from int) ([]output.Line, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, content, created_at FROM output_lines
		WHERE task_id = ? AND idx >= ? ORDER BY idx
	`, taskID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query output lines: %w", err)
	}
	defer rows.Close()

	var lines []output.Line
	for rows.Next() {
		var l output.Line
		if err := rows.Scan(&l.Index, &l.Text, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan output line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// NextOutputIndexes returns, for every task with persisted output, the
// index its next appended line should take.
func (s *SQLiteStore) NextOutputIndexes(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, MAX(idx) + 1 FROM output_lines GROUP BY task_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query output indexes: %w", err)
	}
	defer rows.Close()

	next := make(map[string]int)
	for rows.Next() {
		var taskID string
		var n int
		if err := rows.Scan(&taskID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan output index: %w", err)
		}
		next[taskID] = n
	}
	return next, rows.Err()
}

// ClearOutput removes all persisted output for the task.
func (s *SQLiteStore) ClearOutput(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM output_lines WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to clear output: %w", err)
	}
	return nil
}
