package builtins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStringArgUnwrapsModelShapes(t *testing.T) {
	assert.Equal(t, "a.txt", resolveStringArg(map[string]any{"path": map[string]any{"path": " a.txt "}}, "path"))
	assert.Equal(t, "b", resolveStringArg(map[string]any{"path": map[string]any{"value": "b"}}, "path"))
	assert.Equal(t, "c", resolveStringArg(map[string]any{"path": []any{"c", "d"}}, "path"))
	assert.Equal(t, "fallback", resolveStringArg(map[string]any{"path": "", "file": "fallback"}, pathKeys...))
	assert.Empty(t, resolveStringArg(map[string]any{"path": 3}, "path"))
}

func TestToIntAndToBool(t *testing.T) {
	for in, want := range map[any]int{1: 1, int64(2): 2, 3.9: 3, " 4 ": 4, "5.5": 5} {
		got, err := toInt(in)
		require.NoError(t, err, "%v", in)
		assert.Equal(t, want, got)
	}
	_, err := toInt("")
	assert.Error(t, err)
	_, err = toInt([]int{1})
	assert.Error(t, err)

	b, err := toBool(" TRUE ")
	require.NoError(t, err)
	assert.True(t, b)
	_, err = toBool(1)
	assert.Error(t, err)
}

func TestNormalizeLeavesUnknownToolsAlone(t *testing.T) {
	args := map[string]any{"anything": 1}
	out, err := normalizeToolArguments("custom", args)
	require.NoError(t, err)
	assert.Equal(t, args, out)
}
