// Package store persists task and feature records in SQLite.
// It is the source of truth for task content; in-memory components hold
// only ids and rebuild themselves from store queries after a restart.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// SQLiteStore implements task, dependency, feedback, output-line, and
// feature persistence on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates a SQLite-backed store at dbPath, creating parent
// directories as needed. Enables WAL mode, foreign keys, and a busy timeout.
func Open(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		dbPath)
	return open(ctx, connStr)
}

// OpenMemory creates an in-memory store for testing.
// Uses a shared cache so multiple connections see the same database.
func OpenMemory(ctx context.Context) (*SQLiteStore, error) {
	return open(ctx, "file::memory:?mode=memory&cache=shared&_pragma=foreign_keys(1)")
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	// Pragmas ride in the connection string so every pooled connection
	// gets them, not just the first.
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection for primary queries, one for subqueries.
	db.SetMaxOpenConns(2)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
