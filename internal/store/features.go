package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskdeck/taskdeck/internal/feature"
)

// CreateFeature inserts a new feature record.
func (s *SQLiteStore) CreateFeature(ctx context.Context, f *feature.Feature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO features (id, project_id, description, status, worktree_path, priority, sessions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.ProjectID, f.Description, string(f.Status), f.WorktreePath, f.Priority, f.Sessions, f.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert feature: %w", err)
	}
	return nil
}

// GetFeature retrieves a feature by id. Returns ErrNotFound if unknown.
func (s *SQLiteStore) GetFeature(ctx context.Context, id string) (*feature.Feature, error) {
	row := s.db.QueryRowContext(ctx, featureSelect+` WHERE id = ?`, id)
	f, err := scanFeature(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feature %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query feature: %w", err)
	}
	return f, nil
}

// UpdateFeature persists status, worktree binding, session count, and
// error for a feature.
func (s *SQLiteStore) UpdateFeature(ctx context.Context, f *feature.Feature) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE features SET status = ?, worktree_path = ?, sessions = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, string(f.Status), f.WorktreePath, f.Sessions, f.Error, nullTime(f.CompletedAt), f.ID)
	if err != nil {
		return fmt.Errorf("failed to update feature: %w", err)
	}
	return requireRow(res, f.ID)
}

// DeleteFeature removes the feature record.
func (s *SQLiteStore) DeleteFeature(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete feature: %w", err)
	}
	return requireRow(res, id)
}

// ListFeatures returns a project's features, priority first then oldest.
func (s *SQLiteStore) ListFeatures(ctx context.Context, projectID string) ([]*feature.Feature, error) {
	rows, err := s.db.QueryContext(ctx,
		featureSelect+` WHERE project_id = ? ORDER BY priority DESC, created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query features: %w", err)
	}
	defer rows.Close()

	var features []*feature.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

const featureSelect = `
	SELECT id, project_id, description, status, COALESCE(worktree_path, ''),
		priority, sessions, COALESCE(error, ''), created_at, completed_at
	FROM features`

func scanFeature(row rowScanner) (*feature.Feature, error) {
	f := &feature.Feature{}
	var status string
	var completedAt sql.NullTime
	err := row.Scan(&f.ID, &f.ProjectID, &f.Description, &status, &f.WorktreePath,
		&f.Priority, &f.Sessions, &f.Error, &f.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	f.Status = feature.Status(status)
	if completedAt.Valid {
		f.CompletedAt = completedAt.Time
	}
	return f, nil
}
