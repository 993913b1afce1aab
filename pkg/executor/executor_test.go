package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runspace/core/pkg/executor"
	"github.com/runspace/core/pkg/policy"
	"github.com/runspace/core/pkg/protocol"
	"github.com/runspace/core/pkg/sandbox"
)

// fakeSandbox is an in-memory stand-in for sandbox.Sandbox, letting the
// executor's state machine be tested without a container runtime (spec §8:
// "a fake Sandbox test double").
type fakeSandbox struct {
	files   map[string]string
	execFn  func(ctx context.Context, command string, opts sandbox.ExecOptions) sandbox.ExecResult
	execLog []string
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{files: map[string]string{}}
}

func (f *fakeSandbox) CreateFile(path, content string, encoding protocol.Encoding, overwrite bool) sandbox.FileResult {
	if !overwrite {
		if _, ok := f.files[path]; ok {
			return sandbox.FileResult{Error: "File already exists"}
		}
	}
	f.files[path] = content
	return sandbox.FileResult{Success: true, BytesWritten: int64(len(content))}
}

func (f *fakeSandbox) ReadFile(path string, encoding protocol.Encoding) sandbox.FileResult {
	content, ok := f.files[path]
	if !ok {
		return sandbox.FileResult{Error: "File not found"}
	}
	return sandbox.FileResult{Success: true, Content: content, Encoding: encoding, Size: int64(len(content))}
}

func (f *fakeSandbox) EditFile(path string, edits []protocol.Edit) sandbox.FileResult {
	content, ok := f.files[path]
	if !ok {
		return sandbox.FileResult{Error: "File not found"}
	}
	applied := 0
	for _, e := range edits {
		applied++
		content = e.NewContent
	}
	f.files[path] = content
	return sandbox.FileResult{Success: true, EditsApplied: applied}
}

func (f *fakeSandbox) DeleteFile(path string) sandbox.FileResult {
	if _, ok := f.files[path]; !ok {
		return sandbox.FileResult{Error: "File not found"}
	}
	delete(f.files, path)
	return sandbox.FileResult{Success: true}
}

func (f *fakeSandbox) Exec(ctx context.Context, command string, opts sandbox.ExecOptions) sandbox.ExecResult {
	f.execLog = append(f.execLog, command)
	if f.execFn != nil {
		return f.execFn(ctx, command, opts)
	}
	if command == "cat a.txt" {
		return sandbox.ExecResult{Success: true, ExitCode: 0, Stdout: f.files["a.txt"]}
	}
	return sandbox.ExecResult{Success: true, ExitCode: 0}
}

// TestScenarioS1_HappyPath implements spec scenario S1.
func TestScenarioS1_HappyPath(t *testing.T) {
	t.Parallel()

	pol, err := policy.FromPreset(policy.PresetStandard)
	require.NoError(t, err)
	sb := newFakeSandbox()

	ops := []protocol.Operation{
		{Type: protocol.OpMessage, Content: "hi"},
		{Type: protocol.OpCreateFile, Path: "a.txt", Content: "hello", Overwrite: false},
		{Type: protocol.OpReadFile, Path: "a.txt"},
		{Type: protocol.OpShell, Command: "cat a.txt"},
	}

	result := executor.Run(t.Context(), ops, sb, pol)

	require.Equal(t, executor.StatusCompleted, result.Status)
	require.Len(t, result.Events, 4)

	assert.Equal(t, protocol.EventMessage, result.Events[0].Type)
	assert.True(t, result.Events[0].Success)

	assert.Equal(t, protocol.EventCreateFile, result.Events[1].Type)
	assert.True(t, result.Events[1].Success)
	require.NotNil(t, result.Events[1].BytesWritten)
	assert.Equal(t, int64(5), *result.Events[1].BytesWritten)

	assert.Equal(t, protocol.EventReadFile, result.Events[2].Type)
	assert.True(t, result.Events[2].Success)
	require.NotNil(t, result.Events[2].Content)
	assert.Equal(t, "hello", *result.Events[2].Content)
	require.NotNil(t, result.Events[2].Size)
	assert.Equal(t, int64(5), *result.Events[2].Size)

	assert.Equal(t, protocol.EventShell, result.Events[3].Type)
	assert.True(t, result.Events[3].Success)
	require.NotNil(t, result.Events[3].ExitCode)
	assert.Equal(t, 0, *result.Events[3].ExitCode)
	assert.Equal(t, "hello", result.Events[3].Stdout)
}

// TestScenarioS3_PolicyDenialMidBatch implements spec scenario S3: a denied
// operation never halts the batch.
func TestScenarioS3_PolicyDenialMidBatch(t *testing.T) {
	t.Parallel()

	pol, err := policy.FromPreset(policy.PresetStandard)
	require.NoError(t, err)
	sb := newFakeSandbox()

	ops := []protocol.Operation{
		{Type: protocol.OpCreateFile, Path: "ok.txt", Content: "ok"},
		{Type: protocol.OpShell, Command: "sudo rm -rf /"},
		{Type: protocol.OpCreateFile, Path: "tail.txt", Content: "t"},
	}

	result := executor.Run(t.Context(), ops, sb, pol)

	require.Equal(t, executor.StatusCompleted, result.Status)
	require.Len(t, result.Events, 3)

	assert.Equal(t, protocol.EventCreateFile, result.Events[0].Type)
	assert.True(t, result.Events[0].Success)

	assert.Equal(t, protocol.EventPolicyDenied, result.Events[1].Type)
	assert.Equal(t, protocol.OpShell, result.Events[1].OperationType)
	assert.Contains(t, result.Events[1].Reason, "blocked")

	assert.Equal(t, protocol.EventCreateFile, result.Events[2].Type)
	assert.True(t, result.Events[2].Success)
}

// TestScenarioS4_ApprovalGateAndApprove implements spec scenario S4.
func TestScenarioS4_ApprovalGateAndApprove(t *testing.T) {
	t.Parallel()

	pol, err := policy.FromPreset(policy.PresetStandard)
	require.NoError(t, err)
	sb := newFakeSandbox()

	ops := []protocol.Operation{
		{Type: protocol.OpShell, Command: "rm -rf tmp", ID: "op1"},
	}

	runA := executor.Run(t.Context(), ops, sb, pol)
	require.Equal(t, executor.StatusAwaitingApproval, runA.Status)
	require.Len(t, runA.Events, 1)
	assert.Equal(t, protocol.EventApprovalRequired, runA.Events[0].Type)
	assert.Equal(t, "op1", runA.Events[0].OperationID)
	require.NotNil(t, runA.Pending)
	assert.Equal(t, "op1", runA.Pending.OperationID)

	runB, err := executor.Resume(t.Context(), ops, sb, pol, executor.Decision{OperationID: "op1", Approved: true})
	require.NoError(t, err)
	require.Equal(t, executor.StatusCompleted, runB.Status)
	require.Len(t, runB.Events, 1)
	assert.Equal(t, protocol.EventShell, runB.Events[0].Type)
	assert.True(t, runB.Events[0].Success)
	assert.Equal(t, "rm -rf tmp", runB.Events[0].Command)
	require.NotNil(t, runB.Events[0].ExitCode)
	assert.Equal(t, 0, *runB.Events[0].ExitCode)
}

// TestScenarioS5_ApprovalGateAndDeny implements spec scenario S5.
func TestScenarioS5_ApprovalGateAndDeny(t *testing.T) {
	t.Parallel()

	pol, err := policy.FromPreset(policy.PresetStandard)
	require.NoError(t, err)
	sb := newFakeSandbox()

	ops := []protocol.Operation{
		{Type: protocol.OpShell, Command: "rm -rf tmp", ID: "op1"},
	}

	runA := executor.Run(t.Context(), ops, sb, pol)
	require.Equal(t, executor.StatusAwaitingApproval, runA.Status)

	runB, err := executor.Resume(t.Context(), ops, sb, pol, executor.Decision{OperationID: "op1", Approved: false, Reason: "no"})
	require.NoError(t, err)
	require.Equal(t, executor.StatusCompleted, runB.Status)
	require.Len(t, runB.Events, 1)
	assert.Equal(t, protocol.EventPolicyDenied, runB.Events[0].Type)
	assert.Equal(t, protocol.OpShell, runB.Events[0].OperationType)
	assert.Equal(t, "no", runB.Events[0].Reason)
	assert.Empty(t, sb.execLog, "a denied resume must never reach the sandbox")
}

// TestScenarioS6_Timeout implements spec scenario S6.
func TestScenarioS6_Timeout(t *testing.T) {
	t.Parallel()

	// permissive has no command allowlist, so "sleep" reaches the sandbox.
	pol, err := policy.FromPreset(policy.PresetPermissive)
	require.NoError(t, err)
	pol.Shell.TimeoutMS = 2000

	sb := newFakeSandbox()
	sb.execFn = func(ctx context.Context, command string, opts sandbox.ExecOptions) sandbox.ExecResult {
		assert.Equal(t, int64(2000), opts.TimeoutMS)
		return sandbox.ExecResult{Success: false, ExitCode: 124, TimedOut: true, DurationMS: 2000}
	}

	ops := []protocol.Operation{{Type: protocol.OpShell, Command: "sleep 10"}}
	result := executor.Run(t.Context(), ops, sb, pol)

	require.Equal(t, executor.StatusCompleted, result.Status)
	require.Len(t, result.Events, 1)
	e := result.Events[0]
	assert.False(t, e.Success)
	assert.True(t, e.TimedOut)
	require.NotNil(t, e.ExitCode)
	assert.Equal(t, 124, *e.ExitCode)
	require.NotNil(t, e.DurationMS)
	assert.InDelta(t, 2000, *e.DurationMS, 50)
}

func TestRun_EventCountNeverExceedsOperationCount(t *testing.T) {
	t.Parallel()

	pol, err := policy.FromPreset(policy.PresetRestrictive)
	require.NoError(t, err)
	sb := newFakeSandbox()

	ops := []protocol.Operation{
		{Type: protocol.OpMessage, Content: "hi"},
		{Type: protocol.OpCreateFile, Path: "a.txt", Content: "x"},
		{Type: protocol.OpShell, Command: "ls"},
	}

	result := executor.Run(t.Context(), ops, sb, pol)
	assert.Equal(t, executor.StatusCompleted, result.Status)
	assert.LessOrEqual(t, len(result.Events), len(ops))
	assert.Len(t, result.Events, len(ops))
}

func TestResume_UnknownOperationIDErrors(t *testing.T) {
	t.Parallel()

	pol, err := policy.FromPreset(policy.PresetStandard)
	require.NoError(t, err)
	sb := newFakeSandbox()
	ops := []protocol.Operation{{Type: protocol.OpShell, Command: "rm -rf tmp", ID: "op1"}}

	_ = executor.Run(t.Context(), ops, sb, pol)

	_, err = executor.Resume(t.Context(), ops, sb, pol, executor.Decision{OperationID: "nope", Approved: true})
	require.Error(t, err)
	var nf *executor.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestResume_ApprovalBypassAppliesOnlyAtSuspensionIndex(t *testing.T) {
	t.Parallel()

	pol, err := policy.FromPreset(policy.PresetStandard)
	require.NoError(t, err)
	sb := newFakeSandbox()

	ops := []protocol.Operation{
		{Type: protocol.OpShell, Command: "rm -rf tmp", ID: "op1"},
		{Type: protocol.OpShell, Command: "sudo rm -rf /", ID: "op2"},
	}

	runA := executor.Run(t.Context(), ops, sb, pol)
	require.Equal(t, executor.StatusAwaitingApproval, runA.Status)

	runB, err := executor.Resume(t.Context(), ops, sb, pol, executor.Decision{OperationID: "op1", Approved: true})
	require.NoError(t, err)
	require.Equal(t, executor.StatusCompleted, runB.Status)
	require.Len(t, runB.Events, 2)
	assert.Equal(t, protocol.EventShell, runB.Events[0].Type)
	assert.True(t, runB.Events[0].Success)
	// op2 is still evaluated fresh against policy and denied on its own merits.
	assert.Equal(t, protocol.EventPolicyDenied, runB.Events[1].Type)
}
