package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/protocol"
	"parley/internal/provider"
)

func TestEventWireShapes(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{ContentEvent("hi"), `{"type":"content","value":{"text":"hi"}}`},
		{ToolCallRequestEvent("c1", "list_dir", nil), `{"type":"tool_call_request","value":{"callId":"c1","name":"list_dir","args":{}}}`},
		{
			FinishedEvent(provider.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}),
			`{"type":"finished","value":{"reason":"STOP","usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5}}}`,
		},
		{FinishedEvent(provider.Usage{}), `{"type":"finished","value":{"reason":"STOP","usageMetadata":{"promptTokenCount":0,"candidatesTokenCount":0,"totalTokenCount":0}}}`},
		{ErrorEvent("boom", 500), `{"type":"error","value":{"error":{"message":"boom","status":500}}}`},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(tc.ev)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(raw))

		line, err := protocol.DecodeServerLine(raw)
		require.NoError(t, err)
		require.NotNil(t, line.Event)
		back, err := ParseEvent(*line.Event)
		require.NoError(t, err)
		assert.Equal(t, tc.ev.Type, back.Type)
	}

	_, err := json.Marshal(Event{Type: "agent_start"})
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.True(t, FinishedEvent(provider.Usage{}).Terminal())
	assert.True(t, ErrorEvent("x", 409).Terminal())
	assert.False(t, ContentEvent("x").Terminal())
}
