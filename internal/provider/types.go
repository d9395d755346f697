package provider

import (
	"context"
	"encoding/json"
	"net/http"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of a conversation as the orchestrator sees it. Provider
// wire shapes are derived from it by each Adapter.
type Turn struct {
	Role       Role       `json:"role" cbor:"role"`
	Content    string     `json:"content" cbor:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty" cbor:"tool_calls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty" cbor:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty" cbor:"name,omitempty"`
}

type ToolCall struct {
	ID        string         `json:"id" cbor:"id"`
	Name      string         `json:"name" cbor:"name"`
	Arguments map[string]any `json:"args" cbor:"args"`
}

// ToolResult is the outcome of a tool call as submitted by the remote
// executor in a continuation payload.
type ToolResult struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

// ToolDeclaration describes a callable tool. Parameters is a JSON schema
// object.
type ToolDeclaration struct {
	Name        string         `json:"name" yaml:"name" toml:"name"`
	Description string         `json:"description" yaml:"description" toml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty" toml:"parameters,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
	TotalTokens  int `json:"total"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Request is one provider round trip. Tools and ToolChoice are ignored when
// Continuation is set.
type Request struct {
	Turns        []Turn
	Tools        []ToolDeclaration
	AllowedTools []string
	Continuation bool
}

// Parsed is the vendor-neutral content of one provider reply.
type Parsed struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
}

// Adapter is the vendor-specific formatting and parsing strategy. Every
// method is total over its input: absent fields degrade to zero values.
type Adapter interface {
	Name() string
	FormatSystemPrompt(raw string) string
	FormatTools(decls []ToolDeclaration, allowed []string) any
	IsContinuation(message json.RawMessage) bool
	ToolResults(message json.RawMessage) []ToolResult
	UserText(message json.RawMessage) string
	BuildRequest(model string, turns []Turn, tools any, continuation bool) ([]byte, error)
	Endpoint(baseURL, model string) string
	Authorize(req *http.Request, apiKey string)
	ParseResponse(body []byte) (Parsed, error)
	BackfillArgs(call ToolCall, decls []ToolDeclaration) map[string]any
}

// Completer performs one blocking provider call.
type Completer interface {
	Adapter() Adapter
	Complete(ctx context.Context, req Request) (Parsed, error)
}
