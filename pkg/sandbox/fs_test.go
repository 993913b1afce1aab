package sandbox

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runspace/core/pkg/protocol"
)

func newTestSandbox(t *testing.T) *Sandbox {
	t.Helper()
	return &Sandbox{
		config:    Config{WorkDir: "/workspace"},
		workspace: t.TempDir(),
		status:    StatusReady,
	}
}

func TestCreateFile_WritesAndReadsBack(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	res := sb.CreateFile("a.txt", "hello", protocol.EncodingUTF8, false)
	require.True(t, res.Success)
	assert.Equal(t, int64(5), res.BytesWritten)

	read := sb.ReadFile("a.txt", protocol.EncodingUTF8)
	require.True(t, read.Success)
	assert.Equal(t, "hello", read.Content)
	assert.Equal(t, int64(5), read.Size)
}

func TestCreateFile_OverwriteFalseRejectsExisting(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	require.True(t, sb.CreateFile("a.txt", "first", protocol.EncodingUTF8, false).Success)

	res := sb.CreateFile("a.txt", "second", protocol.EncodingUTF8, false)
	assert.False(t, res.Success)
	assert.Equal(t, "File already exists", res.Error)

	// Invariant 6 (spec §8): prior file bytes remain unchanged.
	read := sb.ReadFile("a.txt", protocol.EncodingUTF8)
	assert.Equal(t, "first", read.Content)
}

func TestCreateFile_OverwriteTrueReplacesContent(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	require.True(t, sb.CreateFile("a.txt", "first", protocol.EncodingUTF8, false).Success)
	require.True(t, sb.CreateFile("a.txt", "second", protocol.EncodingUTF8, true).Success)

	read := sb.ReadFile("a.txt", protocol.EncodingUTF8)
	assert.Equal(t, "second", read.Content)
}

func TestCreateFile_CreatesParentDirectories(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	res := sb.CreateFile("nested/dir/a.txt", "x", protocol.EncodingUTF8, false)
	require.True(t, res.Success)

	assert.FileExists(t, filepath.Join(sb.workspace, "nested/dir/a.txt"))
}

func TestReadFile_MissingReturnsNotFound(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	res := sb.ReadFile("missing.txt", protocol.EncodingUTF8)
	assert.False(t, res.Success)
	assert.Equal(t, "File not found", res.Error)
}

func TestPathSafety_EscapingWorkspaceIsRejected(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	// protocol.ValidatePath already rejects ".." segments before
	// resolvePath's own prefix check runs; both layers must agree.
	res := sb.ReadFile("../escape.txt", protocol.EncodingUTF8)
	assert.False(t, res.Success)
	assert.Equal(t, "Path is outside workspace", res.Error)
}

func TestEditFile_AppliesEditsInOrder(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	require.True(t, sb.CreateFile("a.txt", "hello world", protocol.EncodingUTF8, false).Success)

	res := sb.EditFile("a.txt", []protocol.Edit{
		{OldContent: "hello", NewContent: "goodbye"},
		{OldContent: "world", NewContent: "moon"},
	})
	require.True(t, res.Success)
	assert.Equal(t, 2, res.EditsApplied)

	read := sb.ReadFile("a.txt", protocol.EncodingUTF8)
	assert.Equal(t, "goodbye moon", read.Content)
}

func TestEditFile_AbortsOnFirstUnmatchedEdit(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	require.True(t, sb.CreateFile("a.txt", "hello world", protocol.EncodingUTF8, false).Success)

	res := sb.EditFile("a.txt", []protocol.Edit{
		{OldContent: "hello", NewContent: "goodbye"},
		{OldContent: "nonexistent", NewContent: "x"},
	})
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.EditsApplied)
	assert.Contains(t, res.Error, "nonexistent")

	// The first edit was computed in-memory only; since the whole edit
	// batch failed, the file on disk is untouched.
	read := sb.ReadFile("a.txt", protocol.EncodingUTF8)
	assert.Equal(t, "hello world", read.Content)
}

func TestEditFile_ReplacesOnlyFirstOccurrence(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	require.True(t, sb.CreateFile("a.txt", "foo foo foo", protocol.EncodingUTF8, false).Success)

	res := sb.EditFile("a.txt", []protocol.Edit{{OldContent: "foo", NewContent: "bar"}})
	require.True(t, res.Success)

	read := sb.ReadFile("a.txt", protocol.EncodingUTF8)
	assert.Equal(t, "bar foo foo", read.Content)
}

func TestDeleteFile(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	require.True(t, sb.CreateFile("a.txt", "x", protocol.EncodingUTF8, false).Success)
	require.True(t, sb.DeleteFile("a.txt").Success)

	res := sb.DeleteFile("a.txt")
	assert.False(t, res.Success)
	assert.Equal(t, "File not found", res.Error)
}

func TestListFiles_RecursiveDepthFirstPreOrder(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	require.True(t, sb.CreateFile("a.txt", "1", protocol.EncodingUTF8, false).Success)
	require.True(t, sb.CreateFile("dir/b.txt", "2", protocol.EncodingUTF8, false).Success)

	entries := sb.ListFiles("", true)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0].Path)
	assert.Equal(t, "dir", entries[1].Path)
	assert.True(t, entries[1].IsDirectory)
	assert.Equal(t, "dir/b.txt", entries[2].Path)
}

func TestListFiles_MissingDirectoryReturnsEmpty(t *testing.T) {
	t.Parallel()
	sb := newTestSandbox(t)

	assert.Empty(t, sb.ListFiles("nonexistent", true))
}

func TestIsValidEnvVarName(t *testing.T) {
	t.Parallel()

	assert.True(t, isValidEnvVarName("FOO"))
	assert.True(t, isValidEnvVarName("_FOO_BAR9"))
	assert.False(t, isValidEnvVarName(""))
	assert.False(t, isValidEnvVarName("9FOO"))
	assert.False(t, isValidEnvVarName("FOO-BAR"))
}

func TestBuildEnvFlags_FiltersInvalidNames(t *testing.T) {
	t.Parallel()

	flags := buildEnvFlags([]string{"FOO=bar", "9BAD=x", "NOEQUALS", "BAR=baz=qux"})
	assert.Equal(t, []string{"-e", "FOO=bar", "-e", "BAR=baz=qux"}, flags)
}
