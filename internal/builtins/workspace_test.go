package builtins

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceResolve(t *testing.T) {
	root := t.TempDir()
	w := newWorkspace(root)

	got, err := w.resolve("rel/data.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "rel", "data.txt"), got)

	got, err = w.resolve("")
	require.NoError(t, err)
	assert.Equal(t, root, got)

	got, err = w.resolve(filepath.Join(root, "a", "..", "b"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b"), got)

	for _, raw := range []string{"..", "../sibling", "/etc/passwd", "a/../../x"} {
		_, err := w.resolve(raw)
		assert.True(t, errors.Is(err, ErrOutsideWorkspace), raw)
	}
}

func TestWorkspaceResolveExpandsEnvAndHome(t *testing.T) {
	root := t.TempDir()
	w := newWorkspace(root)

	t.Setenv("PARLEY_BUILTINS_DATA", filepath.Join(root, "data"))
	got, err := w.resolve("$PARLEY_BUILTINS_DATA/x.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "data", "x.txt"), got)

	t.Setenv("HOME", root)
	got, err = w.resolve("~/notes.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "notes.md"), got)

	t.Setenv("HOME", t.TempDir())
	_, err = w.resolve("~/notes.md")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestWorkspaceWalkSkipsGitAndHonoursDepth(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, ".git", "objects"))
	mustMkdirAll(t, filepath.Join(root, "a", "b"))
	mustWrite(t, filepath.Join(root, "a", "b", "deep.txt"), "")
	mustWrite(t, filepath.Join(root, "top.txt"), "")
	w := newWorkspace(root)

	var seen []string
	require.NoError(t, w.walk(context.Background(), root, 2, func(path string, _ fs.DirEntry) error {
		seen = append(seen, w.rel(path))
		return nil
	}))
	assert.ElementsMatch(t, []string{"a", "a/b", "top.txt"}, seen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.walk(ctx, root, -1, func(string, fs.DirEntry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToolsRejectPathsOutsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ls", "read", "find", "grep"} {
		args := map[string]any{"path": "../", "query": "x", "pattern": "x"}
		_, errMsg := execute(t, dir, name, args)
		assert.Contains(t, errMsg, "path_outside_workspace", name)
	}
}

func TestLineWindow(t *testing.T) {
	assert.Equal(t, "", lineWindow("", 0, -1))
	assert.Equal(t, "a\nb", lineWindow("a\r\nb\r\n", 0, -1))
	assert.Equal(t, "b", lineWindow("a\nb\nc", 1, 1))
	assert.Equal(t, "", lineWindow("a\nb", 2, -1))
}
