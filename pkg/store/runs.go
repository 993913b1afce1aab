package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/runspace/core/pkg/protocol"
)

// Run statuses, per spec §6's run response enum.
const (
	RunRunning          = "running"
	RunCompleted        = "completed"
	RunAwaitingApproval = "awaiting_approval"
	RunCancelled        = "cancelled"
	RunError            = "error"
)

// PendingApproval mirrors executor.PendingApproval for the persisted shape,
// kept independent of the executor package so store has no dependency on
// it (store is a leaf package; executor depends on protocol/policy/sandbox
// only, and the run service is what bridges the two).
type PendingApproval struct {
	OperationID   string                   `json:"operationId"`
	OperationType string                   `json:"operationType"`
	Reason        string                   `json:"reason"`
	Details       protocol.ApprovalDetails `json:"details"`
}

// Run is the persisted record of one run of an operation batch.
type Run struct {
	ID              string
	SpaceID         string
	Status          string
	Operations      []protocol.Operation
	Events          []protocol.Event
	PendingApproval *PendingApproval
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// CreateRun inserts a new run record.
func (s *Store) CreateRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		return ErrEmptyID
	}

	opsJSON, err := json.Marshal(r.Operations)
	if err != nil {
		return err
	}
	eventsJSON, err := json.Marshal(r.Events)
	if err != nil {
		return err
	}
	pendingJSON, err := marshalPending(r.PendingApproval)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, space_id, status, operations, events, pending_approval, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SpaceID, r.Status, string(opsJSON), string(eventsJSON), pendingJSON,
		formatTime(r.StartedAt), nullableTime(r.CompletedAt))
	return err
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, space_id, status, operations, events, pending_approval, started_at, completed_at
		 FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status string
}

// ListRuns returns runs for a space, most recently started first.
func (s *Store) ListRuns(ctx context.Context, spaceID string, filter RunFilter) ([]*Run, error) {
	query := `SELECT id, space_id, status, operations, events, pending_approval, started_at, completed_at FROM runs WHERE space_id = ?`
	args := []any{spaceID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpdateRun persists a mutated run record in full (the resume path's
// read-modify-write, and cancel).
func (s *Store) UpdateRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		return ErrEmptyID
	}

	eventsJSON, err := json.Marshal(r.Events)
	if err != nil {
		return err
	}
	pendingJSON, err := marshalPending(r.PendingApproval)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, events=?, pending_approval=?, completed_at=? WHERE id=?`,
		r.Status, string(eventsJSON), pendingJSON, nullableTime(r.CompletedAt), r.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var opsJSON, eventsJSON string
	var pendingJSON sql.NullString
	var startedAtStr string
	var completedAt sql.NullString

	err := row.Scan(&r.ID, &r.SpaceID, &r.Status, &opsJSON, &eventsJSON, &pendingJSON, &startedAtStr, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(opsJSON), &r.Operations); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsJSON), &r.Events); err != nil {
		return nil, err
	}
	if pendingJSON.Valid && pendingJSON.String != "" {
		r.PendingApproval = &PendingApproval{}
		if err := json.Unmarshal([]byte(pendingJSON.String), r.PendingApproval); err != nil {
			return nil, err
		}
	}

	r.StartedAt, err = parseTime(startedAtStr)
	if err != nil {
		return nil, err
	}
	r.CompletedAt, err = timeFromNullable(completedAt)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func marshalPending(p *PendingApproval) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
