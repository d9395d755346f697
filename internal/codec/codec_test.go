package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/provider"
)

func TestToolCallsDecodeIntoStringMaps(t *testing.T) {
	calls := []provider.ToolCall{{
		ID:        "c1",
		Name:      "grep",
		Arguments: map[string]any{"pattern": "TODO", "opts": map[string]any{"ignore_case": true}},
	}}
	raw, err := Marshal(calls)
	require.NoError(t, err)

	var decoded []provider.ToolCall
	require.NoError(t, Unmarshal(raw, &decoded))
	require.Len(t, decoded, 1)
	opts, ok := decoded[0].Arguments["opts"].(map[string]any)
	require.True(t, ok, "nested maps must decode as map[string]any, got %T", decoded[0].Arguments["opts"])
	assert.Equal(t, true, opts["ignore_case"])
}

func TestMarshalIsDeterministic(t *testing.T) {
	a, err := Marshal(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	b, err := Marshal(map[string]any{"c": 3, "a": 2, "b": 1})
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestCompressRoundTrip(t *testing.T) {
	turns := make([]provider.Turn, 0, 40)
	for i := 0; i < 40; i++ {
		turns = append(turns, provider.Turn{Role: provider.RoleUser, Content: "the same line over and over"})
	}
	packed, err := Compress(turns)
	require.NoError(t, err)

	var restored []provider.Turn
	require.NoError(t, Decompress(packed, &restored))
	assert.Equal(t, turns, restored)

	require.Error(t, Decompress([]byte("not zstd"), &restored))
}
