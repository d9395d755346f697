package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVendorBuildRequestMergesToolResults(t *testing.T) {
	a := NewVendorOAuthAdapter()
	turns := []Turn{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "inspect"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "c1", Name: "ls", Arguments: map[string]any{"path": "."}},
			{ID: "c2", Name: "read", Arguments: nil},
		}},
		{Role: RoleTool, ToolCallID: "c1", Content: "a.txt"},
		{Role: RoleTool, ToolCallID: "c2", Content: `{"output":"hello"}`},
	}
	body, err := a.BuildRequest("gemini-2.5-pro", turns, nil, true)
	require.NoError(t, err)

	req := decodeBody(t, body)
	assert.Equal(t, "gemini-2.5-pro", req["model"])
	inner := req["request"].(map[string]any)
	_, hasTools := inner["tools"]
	assert.False(t, hasTools)
	cfg := inner["toolConfig"].(map[string]any)["functionCallingConfig"].(map[string]any)
	assert.Equal(t, "NONE", cfg["mode"])

	sys := inner["systemInstruction"].(map[string]any)
	assert.Equal(t, "sys", sys["parts"].([]any)[0].(map[string]any)["text"])

	contents := inner["contents"].([]any)
	require.Len(t, contents, 3)
	model := contents[1].(map[string]any)
	assert.Equal(t, "model", model["role"])
	require.Len(t, model["parts"], 2)

	results := contents[2].(map[string]any)
	assert.Equal(t, "user", results["role"])
	parts := results["parts"].([]any)
	require.Len(t, parts, 2)
	first := parts[0].(map[string]any)["functionResponse"].(map[string]any)
	assert.Equal(t, "ls", first["name"])
	assert.Equal(t, map[string]any{"output": "a.txt"}, first["response"])
	second := parts[1].(map[string]any)["functionResponse"].(map[string]any)
	assert.Equal(t, "read", second["name"])
	assert.Equal(t, map[string]any{"output": "hello"}, second["response"])
}

func TestVendorBuildRequestWithTools(t *testing.T) {
	a := NewVendorOAuthAdapter()
	tools := a.FormatTools(listDirDecls, []string{"list_dir"})
	body, err := a.BuildRequest("gemini-2.5-pro", []Turn{{Role: RoleUser, Content: "hi"}}, tools, false)
	require.NoError(t, err)

	inner := decodeBody(t, body)["request"].(map[string]any)
	decls := inner["tools"].([]any)[0].(map[string]any)["functionDeclarations"].([]any)
	require.Len(t, decls, 1)
	assert.Equal(t, "list_dir", decls[0].(map[string]any)["name"])
	cfg := inner["toolConfig"].(map[string]any)["functionCallingConfig"].(map[string]any)
	assert.Equal(t, "AUTO", cfg["mode"])
}

func TestVendorParseResponse(t *testing.T) {
	a := NewVendorOAuthAdapter()
	wrapped := []byte(`{"response":{
		"candidates":[{"finishReason":"STOP","content":{"parts":[
			{"text":"pondering","thought":true},
			{"text":"Here "},
			{"text":"you go"},
			{"functionCall":{"name":"ls","args":{"path":"/tmp"}}}
		]}}],
		"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}
	}}`)
	parsed, err := a.ParseResponse(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "Here you go", parsed.Content)
	assert.Equal(t, "STOP", parsed.FinishReason)
	assert.Equal(t, Usage{InputTokens: 7, OutputTokens: 3, TotalTokens: 10}, parsed.Usage)
	require.Len(t, parsed.ToolCalls, 1)
	assert.Equal(t, "call_0", parsed.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"path": "/tmp"}, parsed.ToolCalls[0].Arguments)

	bare, err := a.ParseResponse([]byte(`{"candidates":[{"content":{"parts":[{"text":"plain"}]}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "plain", bare.Content)

	empty, err := a.ParseResponse([]byte(`{"response":{}}`))
	require.NoError(t, err)
	assert.Equal(t, Parsed{}, empty)

	_, err = a.ParseResponse([]byte(`not json`))
	require.Error(t, err)
}

func TestVendorBackfillOnlyCopies(t *testing.T) {
	a := NewVendorOAuthAdapter()
	args := a.BackfillArgs(ToolCall{Name: "list_dir"}, listDirDecls)
	assert.NotNil(t, args)
	assert.Empty(t, args)
}

func TestVendorFormatSystemPromptKeepsMarkup(t *testing.T) {
	got := NewVendorOAuthAdapter().FormatSystemPrompt("  a\n\n\n\n<tools>x</tools>  ")
	assert.Equal(t, "a\n\n<tools>x</tools>", got)
}
