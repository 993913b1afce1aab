// Package runservice implements the Run Service: it persists runs and
// orchestrates calls into the run executor, bridging the pure-function
// executor package and the sqlite-backed store (spec §4.6).
package runservice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/runspace/core/pkg/executor"
	"github.com/runspace/core/pkg/protocol"
	"github.com/runspace/core/pkg/space"
	"github.com/runspace/core/pkg/store"
)

var (
	// ErrSpaceNotRegistered is a System-class error (spec §7): the space
	// id does not resolve to a live Sandbox/Policy pair in the registry.
	ErrSpaceNotRegistered = errors.New("space has no registered sandbox or policy")
	// ErrNotAwaitingApproval is returned by Resume when the target run is
	// not currently suspended.
	ErrNotAwaitingApproval = errors.New("run is not awaiting approval")
	// ErrNotCancellable is returned by Cancel for a run already in a
	// terminal state.
	ErrNotCancellable = errors.New("run cannot be cancelled from its current status")
	// ErrSpaceNotRunnable is returned when a space is resolved but its
	// status (e.g. paused) refuses a new run submission.
	ErrSpaceNotRunnable = errors.New("space is not in a runnable state")
)

// ResumeDecision is the resume request body (spec §6 "Resume request").
type ResumeDecision struct {
	OperationID string
	Decision    string // "approved" | "denied"
	Reason      string
}

// spaceResolver is the narrow slice of space.Manager the run service
// needs: enough to get a Sandbox/Policy/lock triple for a space id without
// depending on the concrete registry type. Kept local so executor_test-style
// fakes can stand in for a real, Docker-backed space.Manager in tests.
type spaceResolver interface {
	Resolve(ctx context.Context, spaceID string) (executor.Sandbox, executor.PolicyEngine, *sync.Mutex, error)
	MarkRunning(ctx context.Context, spaceID string) error
	MarkReady(ctx context.Context, spaceID string) error
}

// managerResolver adapts *space.Manager's concrete-typed Resolve to
// spaceResolver's interface-typed one; *sandbox.Sandbox and policy.Policy
// each already satisfy the narrower executor interfaces structurally.
type managerResolver struct{ m *space.Manager }

func (r managerResolver) Resolve(ctx context.Context, spaceID string) (executor.Sandbox, executor.PolicyEngine, *sync.Mutex, error) {
	return r.m.Resolve(ctx, spaceID)
}

func (r managerResolver) MarkRunning(ctx context.Context, spaceID string) error {
	return r.m.MarkRunning(ctx, spaceID)
}

func (r managerResolver) MarkReady(ctx context.Context, spaceID string) error {
	return r.m.MarkReady(ctx, spaceID)
}

// Service orchestrates run creation and resumption against a space
// registry and the persistence layer.
type Service struct {
	store  *store.Store
	spaces spaceResolver
}

// New constructs a Service backed by a real, Docker-backed space.Manager.
func New(st *store.Store, spaces *space.Manager) *Service {
	return &Service{store: st, spaces: managerResolver{spaces}}
}

// Create invokes the executor over a fresh operation batch for spaceID and
// persists the resulting run (spec §4.6 "On create").
func (s *Service) Create(ctx context.Context, spaceID string, operations []protocol.Operation) (*store.Run, error) {
	sb, pol, unlock, err := s.acquireSpace(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	id := generateRunID()
	startedAt := time.Now().UTC()

	result := executor.Run(ctx, operations, sb, pol)

	run := &store.Run{
		ID:         id,
		SpaceID:    spaceID,
		Status:     runStatus(result.Status),
		Operations: operations,
		Events:     result.Events,
		StartedAt:  startedAt,
	}
	if result.Status == executor.StatusCompleted {
		completed := time.Now().UTC()
		run.CompletedAt = &completed
	}
	if result.Pending != nil {
		run.PendingApproval = pendingRecord(result.Pending)
	}

	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}

	if result.Pending != nil {
		if err := s.raiseApproval(ctx, spaceID, id, result.Pending); err != nil {
			s.markRunError(ctx, run)
			return nil, err
		}
	}

	return run, nil
}

// Resume loads a suspended run, invokes the executor's resume path, and
// persists the concatenated events and new status (spec §4.6 "On
// resume").
func (s *Service) Resume(ctx context.Context, runID string, decision ResumeDecision) (*store.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != store.RunAwaitingApproval {
		return nil, fmt.Errorf("%w: run %q is %q", ErrNotAwaitingApproval, runID, run.Status)
	}

	sb, pol, unlock, err := s.acquireSpace(ctx, run.SpaceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result, err := executor.Resume(ctx, run.Operations, sb, pol, executor.Decision{
		OperationID: decision.OperationID,
		Approved:    decision.Decision == "approved",
		Reason:      decision.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("resuming run %q: %w", runID, err)
	}

	if err := s.decideApproval(ctx, runID, decision); err != nil {
		return nil, err
	}

	run.Events = append(run.Events, result.Events...)
	run.Status = runStatus(result.Status)
	run.PendingApproval = nil
	if result.Pending != nil {
		run.PendingApproval = pendingRecord(result.Pending)
	}
	if result.Status == executor.StatusCompleted {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}

	if err := s.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persisting resumed run: %w", err)
	}

	if result.Pending != nil {
		if err := s.raiseApproval(ctx, run.SpaceID, runID, result.Pending); err != nil {
			s.markRunError(ctx, run)
			return nil, err
		}
	}

	return run, nil
}

// markRunError persists status=error (spec §6 run status enum) for a run
// whose executor result was already durably recorded but a dependent write
// (the approval gate backing its pendingApproval) failed, so the row never
// claims awaiting_approval without a matching approval record. Best-effort:
// its own failure is swallowed since the caller already has an error to
// return.
func (s *Service) markRunError(ctx context.Context, run *store.Run) {
	run.Status = store.RunError
	_ = s.store.UpdateRun(ctx, run)
}

// Cancel writes status cancelled for a run that is running or awaiting
// approval (spec §4.6 "cancel(runId)").
func (s *Service) Cancel(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != store.RunRunning && run.Status != store.RunAwaitingApproval {
		return fmt.Errorf("%w: run %q is %q", ErrNotCancellable, runID, run.Status)
	}

	now := time.Now().UTC()
	run.Status = store.RunCancelled
	run.CompletedAt = &now
	return s.store.UpdateRun(ctx, run)
}

// List returns runs for a space.
func (s *Service) List(ctx context.Context, spaceID string, filter store.RunFilter) ([]*store.Run, error) {
	return s.store.ListRuns(ctx, spaceID, filter)
}

// Get returns a single run.
func (s *Service) Get(ctx context.Context, runID string) (*store.Run, error) {
	return s.store.GetRun(ctx, runID)
}

// acquireSpace resolves a space's live Sandbox and Policy — attaching to
// an already-provisioned sandbox if this process hasn't registered the
// space yet — and locks its per-space mutex so this run serializes against
// any concurrent run on the same space (spec §5: "A Space permits at most
// one active Run at a time"). Once the lock is held it flips the space's
// persisted status to `running` for the duration of the executor call,
// refusing a paused or already-running space (spec §3's `running` state),
// and flips it back to `ready` in the returned unlock func.
func (s *Service) acquireSpace(ctx context.Context, spaceID string) (executor.Sandbox, executor.PolicyEngine, func(), error) {
	sb, pol, lock, err := s.spaces.Resolve(ctx, spaceID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrSpaceNotRegistered, err)
	}

	lock.Lock()

	if err := s.spaces.MarkRunning(ctx, spaceID); err != nil {
		lock.Unlock()
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrSpaceNotRunnable, err)
	}

	unlock := func() {
		_ = s.spaces.MarkReady(ctx, spaceID)
		lock.Unlock()
	}
	return sb, pol, unlock, nil
}

// generateRunID and generateApprovalID mint run_/apr_<12-char opaque id>
// per spec §6, the same 6-random-bytes-as-hex shape sandbox.generateID uses
// for workspace ids.
func generateRunID() string {
	return "run_" + generateOpaqueID()
}

func generateApprovalID() string {
	return "apr_" + generateOpaqueID()
}

func generateOpaqueID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func runStatus(st executor.Status) string {
	switch st {
	case executor.StatusAwaitingApproval:
		return store.RunAwaitingApproval
	default:
		return store.RunCompleted
	}
}

func pendingRecord(p *executor.PendingApproval) *store.PendingApproval {
	if p == nil {
		return nil
	}
	return &store.PendingApproval{
		OperationID:   p.OperationID,
		OperationType: p.OperationType,
		Reason:        p.Reason,
		Details:       p.Details,
	}
}

func (s *Service) raiseApproval(ctx context.Context, spaceID, runID string, pending *executor.PendingApproval) error {
	approval := &store.Approval{
		ID:            generateApprovalID(),
		SpaceID:       spaceID,
		RunID:         runID,
		OperationID:   pending.OperationID,
		OperationType: pending.OperationType,
		Status:        store.ApprovalPending,
		Details:       pending.Details,
		Reason:        pending.Reason,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateApproval(ctx, approval); err != nil {
		return fmt.Errorf("persisting approval gate: %w", err)
	}
	return nil
}

func (s *Service) decideApproval(ctx context.Context, runID string, decision ResumeDecision) error {
	approvals, err := s.store.ListApprovalsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("listing approvals for run %q: %w", runID, err)
	}
	for _, a := range approvals {
		if a.OperationID == decision.OperationID && a.Status == store.ApprovalPending {
			return s.store.DecideApproval(ctx, a.ID, decision.Decision, decision.Reason, time.Now().UTC())
		}
	}
	return nil
}
