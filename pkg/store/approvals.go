package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/runspace/core/pkg/protocol"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalDenied   = "denied"
)

// Approval is the persisted record of a human decision gate raised by the
// run executor's RequireApproval decision.
type Approval struct {
	ID             string
	SpaceID        string
	RunID          string
	OperationID    string
	OperationType  string
	Status         string
	Details        protocol.ApprovalDetails
	Reason         string
	Decision       string
	DecisionReason string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	DecidedAt      *time.Time
}

// CreateApproval inserts a new approval record in pending status.
func (s *Store) CreateApproval(ctx context.Context, a *Approval) error {
	if a.ID == "" {
		return ErrEmptyID
	}

	detailsJSON, err := json.Marshal(a.Details)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, space_id, run_id, operation_id, operation_type, status, details, reason, decision, decision_reason, created_at, expires_at, decided_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SpaceID, a.RunID, a.OperationID, a.OperationType, a.Status, string(detailsJSON),
		a.Reason, a.Decision, a.DecisionReason, formatTime(a.CreatedAt), nullableTime(a.ExpiresAt), nullableTime(a.DecidedAt))
	return err
}

// GetApproval retrieves an approval by id.
func (s *Store) GetApproval(ctx context.Context, id string) (*Approval, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, space_id, run_id, operation_id, operation_type, status, details, reason, decision, decision_reason, created_at, expires_at, decided_at
		 FROM approvals WHERE id = ?`, id)
	a, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListApprovalsByRun returns every approval raised for a given run.
func (s *Store) ListApprovalsByRun(ctx context.Context, runID string) ([]*Approval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, space_id, run_id, operation_id, operation_type, status, details, reason, decision, decision_reason, created_at, expires_at, decided_at
		 FROM approvals WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}

// DecideApproval records a decision against a pending approval.
func (s *Store) DecideApproval(ctx context.Context, id, decision, decisionReason string, decidedAt time.Time) error {
	status := ApprovalDenied
	if decision == "approved" {
		status = ApprovalApproved
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status=?, decision=?, decision_reason=?, decided_at=? WHERE id=? AND status=?`,
		status, decision, decisionReason, formatTime(decidedAt), id, ApprovalPending)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func scanApproval(row rowScanner) (*Approval, error) {
	var a Approval
	var detailsJSON string
	var createdAtStr string
	var expiresAt, decidedAt sql.NullString

	err := row.Scan(&a.ID, &a.SpaceID, &a.RunID, &a.OperationID, &a.OperationType, &a.Status,
		&detailsJSON, &a.Reason, &a.Decision, &a.DecisionReason, &createdAtStr, &expiresAt, &decidedAt)
	if err != nil {
		return nil, err
	}

	if detailsJSON != "" {
		if err := json.Unmarshal([]byte(detailsJSON), &a.Details); err != nil {
			return nil, err
		}
	}

	a.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	a.ExpiresAt, err = timeFromNullable(expiresAt)
	if err != nil {
		return nil, err
	}
	a.DecidedAt, err = timeFromNullable(decidedAt)
	if err != nil {
		return nil, err
	}

	return &a, nil
}
