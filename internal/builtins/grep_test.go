package builtins

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrepToolMatchesDirectory(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "hello\nTODO: one\nbye")
	mustWrite(t, filepath.Join(dir, "b.txt"), "TODO: two\nok")
	mustMkdirAll(t, filepath.Join(dir, ".git"))
	mustWrite(t, filepath.Join(dir, ".git", "HEAD"), "TODO: hidden")

	out, errMsg := execute(t, dir, "grep", map[string]any{"pattern": "TODO"})
	require.Empty(t, errMsg)
	assert.Contains(t, out, "a.txt:2: TODO: one")
	assert.Contains(t, out, "b.txt:1: TODO: two")
	assert.NotContains(t, out, "hidden")
}

func TestGrepToolSingleFile(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "x\ny\nx")

	out, errMsg := execute(t, dir, "grep", map[string]any{"pattern": "^x$", "path": "a.txt"})
	require.Empty(t, errMsg)
	assert.Equal(t, "a.txt:1: x\na.txt:3: x", out)
}

func TestGrepToolIgnoreCaseAndLimit(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "todo\nTODO\nToDo")

	out, errMsg := execute(t, dir, "grep", map[string]any{"pattern": "todo", "ignoreCase": "true", "limit": 2.0})
	require.Empty(t, errMsg)
	assert.Len(t, strings.Split(out, "\n"), 2)

	out, errMsg = execute(t, dir, "grep", map[string]any{"pattern": "todo"})
	require.Empty(t, errMsg)
	assert.Equal(t, "a.txt:1: todo", out)
}

func TestGrepToolErrors(t *testing.T) {
	dir := t.TempDir()

	_, errMsg := execute(t, dir, "grep", map[string]any{})
	assert.Equal(t, "validation_failed: grep.pattern is required", errMsg)

	_, errMsg = execute(t, dir, "grep", map[string]any{"pattern": "x", "limit": 0})
	assert.Equal(t, "validation_failed: grep.limit must be > 0", errMsg)

	_, errMsg = execute(t, dir, "grep", map[string]any{"pattern": "x", "ignore_case": "maybe"})
	assert.Equal(t, "validation_failed: grep.ignore_case must be a boolean", errMsg)

	_, errMsg = execute(t, dir, "grep", map[string]any{"pattern": "("})
	assert.Equal(t, "grep_invalid_pattern", errMsg)

	_, errMsg = execute(t, dir, "grep", map[string]any{"pattern": "x", "path": "missing"})
	assert.Contains(t, errMsg, "grep_failed")
}
