// Package store persists spaces, runs, and approvals in SQLite, grounded
// on the teacher's pkg/session/store.go: a single-writer connection pool
// over modernc.org/sqlite with WAL enabled, JSON-serialized payload
// columns, and typed sentinel errors callers match with errors.Is.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrEmptyID  = errors.New("id cannot be empty")
	ErrNotFound = errors.New("record not found")
)

// Store bundles the three persisted record kinds behind one handle, since
// they share a connection pool and are written within the same request
// lifecycle (a run create touches runs and, on resume, approvals).
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the SQLite database at path, enabling WAL
// and a busy timeout for concurrent readers, and serializing writes onto a
// single connection (SQLite allows exactly one writer at a time).
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS spaces (
			id                TEXT PRIMARY KEY,
			name              TEXT,
			description       TEXT,
			status            TEXT NOT NULL,
			policy            TEXT NOT NULL,
			policy_overrides  TEXT,
			workspace_path    TEXT NOT NULL,
			capabilities      TEXT,
			env               TEXT,
			metadata          TEXT,
			created_at        TEXT NOT NULL,
			expires_at        TEXT
		);

		CREATE TABLE IF NOT EXISTS runs (
			id               TEXT PRIMARY KEY,
			space_id         TEXT NOT NULL REFERENCES spaces(id),
			status           TEXT NOT NULL,
			operations       TEXT NOT NULL,
			events           TEXT NOT NULL,
			pending_approval TEXT,
			started_at       TEXT NOT NULL,
			completed_at     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_runs_space_id ON runs(space_id);

		CREATE TABLE IF NOT EXISTS approvals (
			id               TEXT PRIMARY KEY,
			space_id         TEXT NOT NULL REFERENCES spaces(id),
			run_id           TEXT NOT NULL REFERENCES runs(id),
			operation_id     TEXT NOT NULL,
			operation_type   TEXT NOT NULL,
			status           TEXT NOT NULL,
			details          TEXT,
			reason           TEXT,
			decision         TEXT,
			decision_reason  TEXT,
			created_at       TEXT NOT NULL,
			expires_at       TEXT,
			decided_at       TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_approvals_space_id ON approvals(space_id);
		CREATE INDEX IF NOT EXISTS idx_approvals_run_id ON approvals(run_id);
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for callers that need a single statement
// the typed helpers above don't cover.
func (s *Store) DB() *sql.DB {
	return s.db
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timeFromNullable(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
