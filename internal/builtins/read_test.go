package builtins

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadToolReadsTextFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.txt")
	mustWrite(t, p, "l1\nl2\nl3\n")

	out, errMsg := execute(t, dir, "read", map[string]any{"path": p})
	require.Empty(t, errMsg)
	assert.Equal(t, "l1\nl2\nl3", out)

	out, errMsg = execute(t, dir, "read", map[string]any{"file_path": "a.txt"})
	require.Empty(t, errMsg)
	assert.Equal(t, "l1\nl2\nl3", out)
}

func TestReadToolOffsetLimit(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.txt"), "a\nb\nc\nd")

	out, errMsg := execute(t, dir, "read", map[string]any{"path": "a.txt", "offset": 1.0, "limit": 2.0})
	require.Empty(t, errMsg)
	assert.Equal(t, "b\nc", out)

	out, errMsg = execute(t, dir, "read", map[string]any{"path": "a.txt", "start_line": "3"})
	require.Empty(t, errMsg)
	assert.Equal(t, "d", out)

	out, errMsg = execute(t, dir, "read", map[string]any{"path": "a.txt", "offset": 10})
	require.Empty(t, errMsg)
	assert.Empty(t, out)
}

func TestReadToolErrors(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "bin"), "\xff\xfe")

	cases := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing path", map[string]any{}, "validation_failed: read.path is required"},
		{"negative offset", map[string]any{"path": "x", "offset": -1}, "validation_failed: read.offset must be >= 0"},
		{"zero limit", map[string]any{"path": "x", "limit": 0}, "validation_failed: read.limit must be > 0 or -1"},
		{"bad offset type", map[string]any{"path": "x", "offset": true}, "validation_failed: read.offset must be a number"},
		{"directory", map[string]any{"path": dir}, "read_is_directory"},
		{"non utf8", map[string]any{"path": "bin"}, "read_non_utf8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, errMsg := execute(t, dir, "read", tc.args)
			assert.Equal(t, tc.want, errMsg)
		})
	}

	_, errMsg := execute(t, dir, "read", map[string]any{"path": "missing.txt"})
	assert.Contains(t, errMsg, "read_failed")
}

func TestReadToolRefusesLargeFiles(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "big.txt"), strings.Repeat("x", maxFileBytes+1))

	_, errMsg := execute(t, dir, "read", map[string]any{"path": "big.txt"})
	assert.Equal(t, "read_too_large", errMsg)
}
