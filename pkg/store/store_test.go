package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runspace/core/pkg/protocol"
	"github.com/runspace/core/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetSpace(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	sp := &store.Space{
		ID:            "spc_abc123",
		Name:          "test space",
		Status:        store.SpaceReady,
		Policy:        "standard",
		WorkspacePath: "/var/spaces/spc_abc123",
		Capabilities:  []string{"shell"},
		Env:           map[string]string{"FOO": "bar"},
		Metadata:      map[string]any{"owner": "alice"},
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateSpace(ctx, sp))

	got, err := s.GetSpace(ctx, "spc_abc123")
	require.NoError(t, err)
	assert.Equal(t, sp.Name, got.Name)
	assert.Equal(t, sp.Policy, got.Policy)
	assert.Equal(t, sp.Capabilities, got.Capabilities)
	assert.Equal(t, sp.Env, got.Env)
	assert.Equal(t, "alice", got.Metadata["owner"])
	assert.True(t, sp.CreatedAt.Equal(got.CreatedAt))
}

func TestGetSpace_MissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetSpace(t.Context(), "spc_missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListSpaces_FiltersByStatus(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateSpace(ctx, &store.Space{ID: "spc_a", Status: store.SpaceReady, Policy: "standard", WorkspacePath: "/a", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateSpace(ctx, &store.Space{ID: "spc_b", Status: store.SpaceDestroyed, Policy: "standard", WorkspacePath: "/b", CreatedAt: time.Now()}))

	ready, err := s.ListSpaces(ctx, store.SpaceFilter{Status: store.SpaceReady})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "spc_a", ready[0].ID)

	all, err := s.ListSpaces(ctx, store.SpaceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateSpace_PersistsStatusChange(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	sp := &store.Space{ID: "spc_c", Status: store.SpaceReady, Policy: "standard", WorkspacePath: "/c", CreatedAt: time.Now()}
	require.NoError(t, s.CreateSpace(ctx, sp))

	sp.Status = store.SpaceDestroyed
	require.NoError(t, s.UpdateSpace(ctx, sp))

	got, err := s.GetSpace(ctx, "spc_c")
	require.NoError(t, err)
	assert.Equal(t, store.SpaceDestroyed, got.Status)
}

func TestUpdateSpace_MissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.UpdateSpace(t.Context(), &store.Space{ID: "spc_nope", Policy: "standard", WorkspacePath: "/x", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateAndGetRun_RoundTripsOperationsAndEvents(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateSpace(ctx, &store.Space{ID: "spc_d", Status: store.SpaceReady, Policy: "standard", WorkspacePath: "/d", CreatedAt: time.Now()}))

	run := &store.Run{
		ID:      "run_xyz789",
		SpaceID: "spc_d",
		Status:  store.RunRunning,
		Operations: []protocol.Operation{
			{Type: protocol.OpMessage, ID: "op1", Content: "hi"},
		},
		Events:    []protocol.Event{},
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateRun(ctx, run))

	got, err := s.GetRun(ctx, "run_xyz789")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, got.Status)
	require.Len(t, got.Operations, 1)
	assert.Equal(t, "op1", got.Operations[0].ID)
	assert.Nil(t, got.PendingApproval)
}

func TestUpdateRun_PersistsPendingApprovalAndCompletion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateSpace(ctx, &store.Space{ID: "spc_e", Status: store.SpaceReady, Policy: "standard", WorkspacePath: "/e", CreatedAt: time.Now()}))
	run := &store.Run{ID: "run_e1", SpaceID: "spc_e", Status: store.RunRunning, StartedAt: time.Now()}
	require.NoError(t, s.CreateRun(ctx, run))

	run.Status = store.RunAwaitingApproval
	run.PendingApproval = &store.PendingApproval{OperationID: "op1", OperationType: protocol.OpShell, Reason: "needs approval"}
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err := s.GetRun(ctx, "run_e1")
	require.NoError(t, err)
	assert.Equal(t, store.RunAwaitingApproval, got.Status)
	require.NotNil(t, got.PendingApproval)
	assert.Equal(t, "op1", got.PendingApproval.OperationID)

	now := time.Now().UTC().Truncate(time.Second)
	run.Status = store.RunCompleted
	run.PendingApproval = nil
	run.CompletedAt = &now
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err = s.GetRun(ctx, "run_e1")
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, got.Status)
	assert.Nil(t, got.PendingApproval)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, now.Equal(*got.CompletedAt))
}

func TestListRuns_OrderedMostRecentFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateSpace(ctx, &store.Space{ID: "spc_f", Status: store.SpaceReady, Policy: "standard", WorkspacePath: "/f", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateRun(ctx, &store.Run{ID: "run_1", SpaceID: "spc_f", Status: store.RunCompleted, StartedAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, s.CreateRun(ctx, &store.Run{ID: "run_2", SpaceID: "spc_f", Status: store.RunCompleted, StartedAt: time.Now()}))

	runs, err := s.ListRuns(ctx, "spc_f", store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_2", runs[0].ID)
}

func TestApprovalLifecycle_CreateAndDecide(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateSpace(ctx, &store.Space{ID: "spc_g", Status: store.SpaceReady, Policy: "standard", WorkspacePath: "/g", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateRun(ctx, &store.Run{ID: "run_g1", SpaceID: "spc_g", Status: store.RunAwaitingApproval, StartedAt: time.Now()}))

	cmd := "rm -rf tmp"
	approval := &store.Approval{
		ID:            "apr_1",
		SpaceID:       "spc_g",
		RunID:         "run_g1",
		OperationID:   "op1",
		OperationType: protocol.OpShell,
		Status:        store.ApprovalPending,
		Details:       protocol.ApprovalDetails{Command: &cmd, Policy: "shell.approvalRequired"},
		Reason:        "requires approval",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, s.CreateApproval(ctx, approval))

	got, err := s.GetApproval(ctx, "apr_1")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalPending, got.Status)
	require.NotNil(t, got.Details.Command)
	assert.Equal(t, cmd, *got.Details.Command)

	require.NoError(t, s.DecideApproval(ctx, "apr_1", "approved", "looks fine", time.Now()))

	got, err = s.GetApproval(ctx, "apr_1")
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalApproved, got.Status)
	assert.Equal(t, "approved", got.Decision)
	assert.Equal(t, "looks fine", got.DecisionReason)
	require.NotNil(t, got.DecidedAt)
}

func TestDecideApproval_AlreadyDecidedIsRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateSpace(ctx, &store.Space{ID: "spc_h", Status: store.SpaceReady, Policy: "standard", WorkspacePath: "/h", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateRun(ctx, &store.Run{ID: "run_h1", SpaceID: "spc_h", Status: store.RunAwaitingApproval, StartedAt: time.Now()}))
	require.NoError(t, s.CreateApproval(ctx, &store.Approval{
		ID: "apr_h1", SpaceID: "spc_h", RunID: "run_h1", OperationID: "op1",
		OperationType: protocol.OpShell, Status: store.ApprovalPending, CreatedAt: time.Now(),
	}))

	require.NoError(t, s.DecideApproval(ctx, "apr_h1", "denied", "no", time.Now()))
	err := s.DecideApproval(ctx, "apr_h1", "approved", "retry", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListApprovalsByRun(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.CreateSpace(ctx, &store.Space{ID: "spc_i", Status: store.SpaceReady, Policy: "standard", WorkspacePath: "/i", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateRun(ctx, &store.Run{ID: "run_i1", SpaceID: "spc_i", Status: store.RunAwaitingApproval, StartedAt: time.Now()}))
	require.NoError(t, s.CreateApproval(ctx, &store.Approval{ID: "apr_i1", SpaceID: "spc_i", RunID: "run_i1", OperationID: "op1", OperationType: protocol.OpShell, Status: store.ApprovalPending, CreatedAt: time.Now()}))

	approvals, err := s.ListApprovalsByRun(ctx, "run_i1")
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, "op1", approvals[0].OperationID)
}
