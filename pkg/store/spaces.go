package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/runspace/core/pkg/policy"
)

// Space statuses, per spec §6's five-state lifecycle: `creating` while the
// sandbox is being provisioned, `ready` once it's usable, `running` while a
// Run holds the space's per-space lock, `paused` when an operator has
// suspended new run submissions without tearing the sandbox down, and
// `destroyed` once torn down and tombstoned.
const (
	SpaceCreating  = "creating"
	SpaceReady     = "ready"
	SpaceRunning   = "running"
	SpacePaused    = "paused"
	SpaceDestroyed = "destroyed"
)

// Space is the persisted record backing a space.Manager entry (spec §6
// "Persisted shapes").
type Space struct {
	ID              string
	Name            string
	Description     string
	Status          string
	Policy          string
	PolicyOverrides *policy.Overrides
	WorkspacePath   string
	Capabilities    []string
	Env             map[string]string
	Metadata        map[string]any
	CreatedAt       time.Time
	ExpiresAt       *time.Time
}

// CreateSpace inserts a new space record.
func (s *Store) CreateSpace(ctx context.Context, sp *Space) error {
	if sp.ID == "" {
		return ErrEmptyID
	}

	overridesJSON, err := marshalOptional(sp.PolicyOverrides)
	if err != nil {
		return err
	}
	capsJSON, err := json.Marshal(sp.Capabilities)
	if err != nil {
		return err
	}
	envJSON, err := json.Marshal(sp.Env)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(sp.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spaces (id, name, description, status, policy, policy_overrides, workspace_path, capabilities, env, metadata, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.Name, sp.Description, sp.Status, sp.Policy, overridesJSON, sp.WorkspacePath,
		string(capsJSON), string(envJSON), string(metaJSON), formatTime(sp.CreatedAt), nullableTime(sp.ExpiresAt))
	return err
}

// GetSpace retrieves a space by id.
func (s *Store) GetSpace(ctx context.Context, id string) (*Space, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, status, policy, policy_overrides, workspace_path, capabilities, env, metadata, created_at, expires_at
		 FROM spaces WHERE id = ?`, id)
	sp, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sp, err
}

// SpaceFilter narrows ListSpaces; a zero-value filter lists everything.
type SpaceFilter struct {
	Status string
}

// ListSpaces returns spaces matching filter, newest first.
func (s *Store) ListSpaces(ctx context.Context, filter SpaceFilter) ([]*Space, error) {
	query := `SELECT id, name, description, status, policy, policy_overrides, workspace_path, capabilities, env, metadata, created_at, expires_at FROM spaces`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spaces []*Space
	for rows.Next() {
		sp, err := scanSpace(rows)
		if err != nil {
			return nil, err
		}
		spaces = append(spaces, sp)
	}
	return spaces, rows.Err()
}

// UpdateSpace persists a mutated space record in full.
func (s *Store) UpdateSpace(ctx context.Context, sp *Space) error {
	if sp.ID == "" {
		return ErrEmptyID
	}

	overridesJSON, err := marshalOptional(sp.PolicyOverrides)
	if err != nil {
		return err
	}
	capsJSON, err := json.Marshal(sp.Capabilities)
	if err != nil {
		return err
	}
	envJSON, err := json.Marshal(sp.Env)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(sp.Metadata)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE spaces SET name=?, description=?, status=?, policy=?, policy_overrides=?, workspace_path=?, capabilities=?, env=?, metadata=?, expires_at=? WHERE id=?`,
		sp.Name, sp.Description, sp.Status, sp.Policy, overridesJSON, sp.WorkspacePath,
		string(capsJSON), string(envJSON), string(metaJSON), nullableTime(sp.ExpiresAt), sp.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

// DeleteSpace removes a space record entirely (used only by tests and
// hard-cleanup paths; normal destroy flows set status=destroyed instead so
// foreign keys from runs/approvals remain valid).
func (s *Store) DeleteSpace(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM spaces WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpace(row rowScanner) (*Space, error) {
	var sp Space
	var overridesJSON, capsJSON, envJSON, metaJSON sql.NullString
	var createdAtStr string
	var expiresAt sql.NullString

	err := row.Scan(&sp.ID, &sp.Name, &sp.Description, &sp.Status, &sp.Policy, &overridesJSON,
		&sp.WorkspacePath, &capsJSON, &envJSON, &metaJSON, &createdAtStr, &expiresAt)
	if err != nil {
		return nil, err
	}

	sp.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	sp.ExpiresAt, err = timeFromNullable(expiresAt)
	if err != nil {
		return nil, err
	}

	if overridesJSON.Valid && overridesJSON.String != "" {
		sp.PolicyOverrides = &policy.Overrides{}
		if err := json.Unmarshal([]byte(overridesJSON.String), sp.PolicyOverrides); err != nil {
			return nil, err
		}
	}
	if capsJSON.Valid && capsJSON.String != "" {
		if err := json.Unmarshal([]byte(capsJSON.String), &sp.Capabilities); err != nil {
			return nil, err
		}
	}
	if envJSON.Valid && envJSON.String != "" {
		if err := json.Unmarshal([]byte(envJSON.String), &sp.Env); err != nil {
			return nil, err
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &sp.Metadata); err != nil {
			return nil, err
		}
	}

	return &sp, nil
}

func marshalOptional(v *policy.Overrides) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
