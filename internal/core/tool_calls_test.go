package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/provider"
)

func TestAutoModeCollapsesApproval(t *testing.T) {
	tr := NewToolCallTracker(ApprovalAuto)
	tr.Track([]provider.ToolCall{{ID: "a"}, {ID: "b"}})

	require.Error(t, tr.Decide("a", true))
	require.NoError(t, tr.Resolve([]provider.ToolResult{
		{ID: "a", Response: map[string]any{"output": "ok"}},
		{ID: "b", Response: map[string]any{"error": "denied"}},
	}))

	snap := tr.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, ToolCompleted, snap[0].State)
	assert.Equal(t, ToolFailed, snap[1].State)

	require.Error(t, tr.Resolve([]provider.ToolResult{{ID: "a"}}))
	require.ErrorIs(t, tr.CheckResults([]provider.ToolResult{{ID: "nope"}}), ErrUnknownToolCall)
}

func TestExplicitModeStates(t *testing.T) {
	tr := NewToolCallTracker(ApprovalExplicit)
	assert.Equal(t, ApprovalExplicit, tr.Mode())
	tr.Track([]provider.ToolCall{{ID: "a"}, {ID: "b"}})

	require.ErrorIs(t, tr.CheckResults([]provider.ToolResult{{ID: "a"}}), ErrToolCallUndecided)

	require.NoError(t, tr.Decide("a", true))
	require.NoError(t, tr.Decide("b", false))
	require.Error(t, tr.Decide("b", true), "decisions are final")
	require.ErrorIs(t, tr.Decide("zzz", true), ErrUnknownToolCall)

	require.NoError(t, tr.Resolve([]provider.ToolResult{
		{ID: "a", Response: map[string]any{"output": "ok"}},
		{ID: "b", Response: map[string]any{"output": "ran anyway"}},
	}))
	a, _ := tr.State("a")
	b, _ := tr.State("b")
	assert.Equal(t, ToolCompleted, a)
	assert.Equal(t, ToolFailed, b)

	tr.Reset()
	_, ok := tr.State("a")
	assert.False(t, ok)
}

func TestUnknownModeDefaultsToAuto(t *testing.T) {
	assert.Equal(t, ApprovalAuto, NewToolCallTracker("").Mode())
	assert.Equal(t, ApprovalAuto, NewToolCallTracker("sometimes").Mode())
}
