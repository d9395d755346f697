package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var listDirDecls = []ToolDeclaration{
	{
		Name:        "list_dir",
		Description: "List a directory",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string"},
				"recursive": map[string]any{"type": "boolean"},
			},
		},
	},
	{Name: "read", Description: "Read a file"},
}

func decodeBody(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func TestOpenAIFormatToolsFiltersByWhitelist(t *testing.T) {
	a := NewOpenAICompatAdapter()

	tools := a.FormatTools(listDirDecls, []string{"list_dir"}).([]openAITool)
	require.Len(t, tools, 1)
	assert.Equal(t, "function", tools[0].Type)
	assert.Equal(t, "list_dir", tools[0].Function.Name)

	assert.Empty(t, a.FormatTools(listDirDecls, nil))

	tools = a.FormatTools(listDirDecls, []string{"read", "list_dir", "read"}).([]openAITool)
	require.Len(t, tools, 2)
	assert.Equal(t, "list_dir", tools[0].Function.Name)
	assert.Equal(t, map[string]any{"type": "object", "properties": map[string]any{}}, tools[1].Function.Parameters)
}

func TestOpenAIBuildRequestNewQuery(t *testing.T) {
	a := NewOpenAICompatAdapter()
	turns := []Turn{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "list files"},
	}
	body, err := a.BuildRequest("gpt-4o", turns, a.FormatTools(listDirDecls, []string{"list_dir"}), false)
	require.NoError(t, err)

	req := decodeBody(t, body)
	assert.Equal(t, "gpt-4o", req["model"])
	assert.Equal(t, "auto", req["tool_choice"])
	require.Len(t, req["tools"], 1)
	require.Len(t, req["messages"], 2)
}

func TestOpenAIBuildRequestContinuationOmitsTools(t *testing.T) {
	a := NewOpenAICompatAdapter()
	turns := []Turn{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "list files"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "list_dir", Arguments: map[string]any{}}}},
		{Role: RoleTool, ToolCallID: "c1", Content: "a.txt"},
	}
	// Even a non-empty tool list must not reach the wire on a continuation.
	body, err := a.BuildRequest("gpt-4o", turns, a.FormatTools(listDirDecls, []string{"list_dir"}), true)
	require.NoError(t, err)

	req := decodeBody(t, body)
	_, hasTools := req["tools"]
	assert.False(t, hasTools)
	assert.Equal(t, "none", req["tool_choice"])

	msgs := req["messages"].([]any)
	require.Len(t, msgs, 4)
	assistant := msgs[2].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	require.Len(t, calls, 1)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "{}", fn["arguments"])
	tool := msgs[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "c1", tool["tool_call_id"])
}

func TestOpenAIParseResponse(t *testing.T) {
	a := NewOpenAICompatAdapter()
	body := []byte(`{
		"choices":[{"finish_reason":"tool_calls","message":{"content":"checking",
			"tool_calls":[
				{"id":"c1","function":{"name":"list_dir","arguments":"{\"path\":\".\"}"}},
				{"function":{"name":"read","arguments":{"path":"go.mod"}}},
				{"id":"c3","function":{"name":"read","arguments":"not json"}}
			]}}],
		"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}
	}`)
	parsed, err := a.ParseResponse(body)
	require.NoError(t, err)
	assert.Equal(t, "checking", parsed.Content)
	assert.Equal(t, "tool_calls", parsed.FinishReason)
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, parsed.Usage)
	require.Len(t, parsed.ToolCalls, 3)
	assert.Equal(t, map[string]any{"path": "."}, parsed.ToolCalls[0].Arguments)
	assert.Equal(t, "call_1", parsed.ToolCalls[1].ID)
	assert.Equal(t, map[string]any{"path": "go.mod"}, parsed.ToolCalls[1].Arguments)
	assert.Equal(t, map[string]any{}, parsed.ToolCalls[2].Arguments)
}

func TestOpenAIParseResponseDegradesGracefully(t *testing.T) {
	a := NewOpenAICompatAdapter()

	parsed, err := a.ParseResponse([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Parsed{}, parsed)

	parsed, err = a.ParseResponse([]byte(`{"choices":[{"message":{"content":null}}]}`))
	require.NoError(t, err)
	assert.Empty(t, parsed.Content)
	assert.Empty(t, parsed.ToolCalls)

	_, err = a.ParseResponse([]byte(`<html>bad gateway</html>`))
	require.Error(t, err)
}

func TestGenericParsesBareReplies(t *testing.T) {
	a := NewGenericAdapter()

	parsed, err := a.ParseResponse([]byte(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", parsed.Content)

	parsed, err = a.ParseResponse([]byte(`{"content":"x","tool_calls":[{"id":"t1","name":"ls","arguments":{"path":"/"}}]}`))
	require.NoError(t, err)
	require.Len(t, parsed.ToolCalls, 1)
	assert.Equal(t, "ls", parsed.ToolCalls[0].Name)
	assert.Equal(t, map[string]any{"path": "/"}, parsed.ToolCalls[0].Arguments)

	// The strict adapter ignores the bare shape.
	parsed, err = NewOpenAICompatAdapter().ParseResponse([]byte(`{"text":"hello"}`))
	require.NoError(t, err)
	assert.Empty(t, parsed.Content)
}

func TestOpenAIBackfillsBooleans(t *testing.T) {
	a := NewOpenAICompatAdapter()
	call := ToolCall{ID: "c1", Name: "list_dir", Arguments: map[string]any{"path": "."}}

	args := a.BackfillArgs(call, listDirDecls)
	assert.Equal(t, map[string]any{"path": ".", "recursive": false}, args)
	assert.Equal(t, map[string]any{"path": "."}, call.Arguments, "input must not be mutated")

	args = a.BackfillArgs(ToolCall{Name: "list_dir", Arguments: map[string]any{"recursive": true}}, listDirDecls)
	assert.Equal(t, true, args["recursive"])

	args = a.BackfillArgs(ToolCall{Name: "unknown"}, listDirDecls)
	assert.NotNil(t, args)
	assert.Empty(t, args)
}

func TestOpenAIFormatSystemPrompt(t *testing.T) {
	raw := "You are helpful.\n\n\n\n<tools>\n[{\"name\":\"x\"}]\n</tools>\nUse <tool_code>print()</tool_code>tools wisely.\n"
	got := NewOpenAICompatAdapter().FormatSystemPrompt(raw)
	assert.Equal(t, "You are helpful.\n\nUse tools wisely.", got)
	assert.NotContains(t, got, "<tools>")
}

func TestOpenAIEndpoint(t *testing.T) {
	a := NewOpenAICompatAdapter()
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", a.Endpoint("", "gpt-4o"))
	assert.Equal(t, "http://localhost:11434/v1/chat/completions", a.Endpoint("http://localhost:11434/", "qwen"))
	assert.Equal(t, "http://host/v1/chat/completions", a.Endpoint("http://host/v1", "m"))
}
