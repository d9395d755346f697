package cycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/provider"
)

func prior() []provider.Turn {
	return []provider.Turn{
		{Role: provider.RoleSystem, Content: "stale system"},
		{Role: provider.RoleUser, Content: "hi"},
		{Role: provider.RoleAssistant, Content: "hello"},
	}
}

func TestStartNewPlacesSingleSystemTurnFirst(t *testing.T) {
	h := StartNew("sys", prior(), "list files")
	turns := h.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, provider.Turn{Role: provider.RoleSystem, Content: "sys"}, turns[0])
	assert.Equal(t, "hi", turns[1].Content)
	assert.Equal(t, "hello", turns[2].Content)
	assert.Equal(t, provider.Turn{Role: provider.RoleUser, Content: "list files"}, turns[3])

	systems := 0
	for _, turn := range turns {
		if turn.Role == provider.RoleSystem {
			systems++
		}
	}
	assert.Equal(t, 1, systems)
}

func TestCycleIntegrityAfterContinuation(t *testing.T) {
	calls := []provider.ToolCall{
		{ID: "c1", Name: "list_dir", Arguments: map[string]any{}},
		{ID: "c2", Name: "read", Arguments: map[string]any{"path": "a"}},
	}
	h := StartNew("sys", prior()[1:], "list files").AppendAssistant("", calls)
	require.Len(t, h.PendingToolCalls(), 2)

	next, err := h.AppendToolResults([]provider.ToolResult{
		{ID: "c2", Response: map[string]any{"output": "A"}},
		{ID: "c1", Response: map[string]any{"output": "a.txt"}},
	})
	require.NoError(t, err)

	roles := []provider.Role{}
	for _, turn := range next.Turns() {
		roles = append(roles, turn.Role)
	}
	assert.Equal(t, []provider.Role{
		provider.RoleSystem, provider.RoleUser, provider.RoleAssistant,
		provider.RoleUser, provider.RoleAssistant, provider.RoleTool, provider.RoleTool,
	}, roles)

	turns := next.Turns()
	assert.Equal(t, "c2", turns[5].ToolCallID)
	assert.Equal(t, "read", turns[5].Name)
	assert.Equal(t, "c1", turns[6].ToolCallID)
	assert.Empty(t, next.PendingToolCalls())

	// The original value is untouched.
	assert.Equal(t, 5, h.Len())
	assert.Len(t, h.PendingToolCalls(), 2)
}

func TestAppendToolResultsRequiresPendingCalls(t *testing.T) {
	h := StartNew("sys", nil, "hi")
	_, err := h.AppendToolResults([]provider.ToolResult{{ID: "c1"}})
	require.ErrorIs(t, err, ErrNoPendingToolCalls)

	h = h.AppendAssistant("plain answer", nil)
	_, err = h.AppendToolResults([]provider.ToolResult{{ID: "c1"}})
	require.ErrorIs(t, err, ErrNoPendingToolCalls)

	_, err = History{}.AppendToolResults([]provider.ToolResult{{ID: "c1"}})
	require.ErrorIs(t, err, ErrNoPendingToolCalls)
}

func TestAppendToolResultsRejectsUnknownAndDuplicateIDs(t *testing.T) {
	h := StartNew("sys", nil, "hi").AppendAssistant("", []provider.ToolCall{{ID: "c1", Name: "ls"}})

	_, err := h.AppendToolResults([]provider.ToolResult{{ID: "zzz"}})
	require.ErrorIs(t, err, ErrUnknownToolCallID)

	_, err = h.AppendToolResults([]provider.ToolResult{{ID: "c1"}, {ID: "c1"}})
	require.ErrorIs(t, err, ErrUnknownToolCallID)

	_, err = h.AppendToolResults(nil)
	require.ErrorIs(t, err, ErrNoToolResults)

	answered, err := h.AppendToolResults([]provider.ToolResult{{ID: "c1"}})
	require.NoError(t, err)
	_, err = answered.AppendToolResults([]provider.ToolResult{{ID: "c1"}})
	require.ErrorIs(t, err, ErrNoPendingToolCalls)
}

func TestHistoryDoesNotAlias(t *testing.T) {
	args := map[string]any{"path": "."}
	h := StartNew("sys", nil, "hi").AppendAssistant("", []provider.ToolCall{{ID: "c1", Name: "ls", Arguments: args}})
	args["path"] = "/etc"

	turns := h.Turns()
	assert.Equal(t, ".", turns[2].ToolCalls[0].Arguments["path"])

	turns[0].Content = "mutated"
	turns[2].ToolCalls[0].Arguments["path"] = "/root"
	again := h.Turns()
	assert.Equal(t, "sys", again[0].Content)
	assert.Equal(t, ".", again[2].ToolCalls[0].Arguments["path"])

	a := h.AppendAssistant("a", nil)
	b := h.AppendAssistant("b", nil)
	last, _ := a.Last()
	assert.Equal(t, "a", last.Content)
	last, _ = b.Last()
	assert.Equal(t, "b", last.Content)
}
