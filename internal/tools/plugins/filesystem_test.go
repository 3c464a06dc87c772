package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T) (*Filesystem, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "workspace")
	f := NewFilesystem(base, testr.New(t))
	require.NoError(t, f.Init(t.Context()))
	t.Cleanup(func() { _ = f.Close() })
	return f, base
}

func TestFilesystemWriteReadList(t *testing.T) {
	f, base := newTestFilesystem(t)

	out, err := f.writeFile(t.Context(), map[string]any{"file_path": "notes/todo.txt", "content": "buy milk"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true, "path": "notes/todo.txt", "size": 8}, out)

	data, err := os.ReadFile(filepath.Join(base, "notes", "todo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "buy milk", string(data))

	out, err = f.readFile(t.Context(), map[string]any{"file_path": "notes/todo.txt"})
	require.NoError(t, err)
	assert.Equal(t, "buy milk", out)

	out, err = f.readFile(t.Context(), map[string]any{"file_path": filepath.Join(base, "notes", "todo.txt")})
	require.NoError(t, err)
	assert.Equal(t, "buy milk", out)

	require.NoError(t, os.WriteFile(filepath.Join(base, "a.txt"), []byte("abc"), 0o644))
	out, err = f.listDir(t.Context(), map[string]any{})
	require.NoError(t, err)
	entries := out.([]FileEntry)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "file", entries[0].Type)
	require.NotNil(t, entries[0].Size)
	assert.Equal(t, int64(3), *entries[0].Size)
	assert.Equal(t, FileEntry{Name: "notes", Type: "directory"}, entries[1])
}

func TestFilesystemRejectsEscapes(t *testing.T) {
	f, _ := newTestFilesystem(t)

	for _, p := range []string{"../secret", "notes/../../secret", "/etc/passwd"} {
		_, err := f.readFile(t.Context(), map[string]any{"file_path": p})
		assert.ErrorIs(t, err, errOutsideWorkspace, p)
	}
	_, err := f.writeFile(t.Context(), map[string]any{"file_path": "../x", "content": "y"})
	assert.ErrorIs(t, err, errOutsideWorkspace)
	_, err = f.listDir(t.Context(), map[string]any{"directory": ".."})
	assert.ErrorIs(t, err, errOutsideWorkspace)
}

func TestFilesystemErrors(t *testing.T) {
	f, _ := newTestFilesystem(t)

	_, err := f.readFile(t.Context(), map[string]any{"file_path": "missing.txt"})
	assert.ErrorContains(t, err, "file not found")

	_, err = f.writeFile(t.Context(), map[string]any{"file_path": "x.txt"})
	assert.Error(t, err)

	_, err = f.writeFile(t.Context(), map[string]any{"file_path": "x.txt", "content": "1"})
	require.NoError(t, err)
	_, err = f.listDir(t.Context(), map[string]any{"directory": "x.txt"})
	assert.ErrorContains(t, err, "not a directory")

	_, err = f.readFile(t.Context(), map[string]any{"file_path": "."})
	assert.ErrorContains(t, err, "is a directory")
}
