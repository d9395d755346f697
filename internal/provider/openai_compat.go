package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	NameOpenAICompatible = "openai-compatible"
	NameGeneric          = "generic"
)

// openAICompatAdapter speaks the chat completions wire format. The generic
// fallback reuses it with a lenient response parser that also accepts bare
// {content, tool_calls} or {text} bodies.
type openAICompatAdapter struct {
	name    string
	lenient bool
}

func NewOpenAICompatAdapter() Adapter {
	return &openAICompatAdapter{name: NameOpenAICompatible}
}

func NewGenericAdapter() Adapter {
	return &openAICompatAdapter{name: NameGeneric, lenient: true}
}

func (a *openAICompatAdapter) Name() string { return a.name }

func (a *openAICompatAdapter) FormatSystemPrompt(raw string) string {
	return stripFunctionCallingMarkup(raw)
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

func (a *openAICompatAdapter) FormatTools(decls []ToolDeclaration, allowed []string) any {
	filtered := filterTools(decls, allowed)
	tools := make([]openAITool, 0, len(filtered))
	for _, decl := range filtered {
		tools = append(tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  toolParameters(decl),
			},
		})
	}
	return tools
}

// openAIToolMessage is the native chat-completions shape for a tool result,
// accepted in addition to functionResponse parts.
type openAIToolMessage struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Content    json.RawMessage `json:"content"`
}

func decodeOpenAIToolMessage(part map[string]json.RawMessage) (openAIToolMessage, bool) {
	if _, ok := part["tool_call_id"]; !ok {
		return openAIToolMessage{}, false
	}
	b, err := json.Marshal(part)
	if err != nil {
		return openAIToolMessage{}, false
	}
	var msg openAIToolMessage
	if err := json.Unmarshal(b, &msg); err != nil || strings.TrimSpace(msg.ToolCallID) == "" {
		return openAIToolMessage{}, false
	}
	return msg, true
}

func (a *openAICompatAdapter) IsContinuation(message json.RawMessage) bool {
	parts, ok := messageParts(message)
	if !ok {
		return false
	}
	for _, part := range parts {
		if _, ok := decodeFunctionResponse(part); ok {
			continue
		}
		if _, ok := decodeOpenAIToolMessage(part); ok {
			continue
		}
		return false
	}
	return true
}

func (a *openAICompatAdapter) ToolResults(message json.RawMessage) []ToolResult {
	parts, ok := messageParts(message)
	if !ok {
		return nil
	}
	out := make([]ToolResult, 0, len(parts))
	for _, part := range parts {
		if fr, ok := decodeFunctionResponse(part); ok {
			out = append(out, ToolResult{ID: strings.TrimSpace(fr.ID), Name: strings.TrimSpace(fr.Name), Response: nonNilMap(fr.Response)})
			continue
		}
		if msg, ok := decodeOpenAIToolMessage(part); ok {
			out = append(out, ToolResult{
				ID:       strings.TrimSpace(msg.ToolCallID),
				Name:     strings.TrimSpace(msg.Name),
				Response: openAIToolContent(msg.Content),
			})
		}
	}
	return out
}

func openAIToolContent(raw json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return obj
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return map[string]any{"output": s}
	}
	return map[string]any{"output": strings.TrimSpace(string(raw))}
}

func (a *openAICompatAdapter) UserText(message json.RawMessage) string {
	return plainUserText(message)
}

type openAIRequest struct {
	Model      string          `json:"model"`
	Messages   []openAIMessage `json:"messages"`
	Tools      []openAITool    `json:"tools,omitempty"`
	ToolChoice string          `json:"tool_choice,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (a *openAICompatAdapter) BuildRequest(model string, turns []Turn, tools any, continuation bool) ([]byte, error) {
	payload := openAIRequest{
		Model:    model,
		Messages: buildOpenAIMessages(turns),
	}
	if continuation {
		payload.ToolChoice = "none"
	} else if list, ok := tools.([]openAITool); ok && len(list) > 0 {
		payload.Tools = list
		payload.ToolChoice = "auto"
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai_encode_request: %w", err)
	}
	return b, nil
}

func buildOpenAIMessages(turns []Turn) []openAIMessage {
	out := make([]openAIMessage, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem, RoleUser:
			out = append(out, openAIMessage{Role: string(turn.Role), Content: turn.Content})
		case RoleAssistant:
			out = append(out, openAIMessage{
				Role:      string(RoleAssistant),
				Content:   turn.Content,
				ToolCalls: openAIToolCalls(turn.ToolCalls),
			})
		case RoleTool:
			out = append(out, openAIMessage{
				Role:       string(RoleTool),
				Content:    turn.Content,
				ToolCallID: turn.ToolCallID,
			})
		default:
			if strings.TrimSpace(turn.Content) == "" {
				continue
			}
			out = append(out, openAIMessage{Role: string(RoleUser), Content: turn.Content})
		}
	}
	return out
}

func openAIToolCalls(calls []ToolCall) []openAIToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openAIToolCall, 0, len(calls))
	for _, call := range calls {
		args := "{}"
		if len(call.Arguments) > 0 {
			if b, err := json.Marshal(call.Arguments); err == nil {
				args = string(b)
			}
		}
		out = append(out, openAIToolCall{
			ID:       call.ID,
			Type:     "function",
			Function: openAIFunctionCall{Name: call.Name, Arguments: args},
		})
	}
	return out
}

func (a *openAICompatAdapter) Endpoint(baseURL, _ string) string {
	return normalizeAPIBase(baseURL) + "/chat/completions"
}

func normalizeAPIBase(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		trimmed = "https://api.openai.com"
	}
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

func (a *openAICompatAdapter) Authorize(req *http.Request, apiKey string) {
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type openAIResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content   *string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string          `json:"name"`
					Arguments json.RawMessage `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// bareResponse is the shape accepted by the generic fallback when a server
// does not wrap its reply in choices.
type bareResponse struct {
	Content   string          `json:"content"`
	Text      string          `json:"text"`
	ToolCalls json.RawMessage `json:"tool_calls"`
}

func (a *openAICompatAdapter) ParseResponse(body []byte) (Parsed, error) {
	var decoded openAIResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Parsed{}, fmt.Errorf("openai_bad_response: %w", err)
	}
	var out Parsed
	if decoded.Usage != nil {
		out.Usage = Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
			TotalTokens:  decoded.Usage.TotalTokens,
		}
	}
	if len(decoded.Choices) == 0 {
		if a.lenient {
			return a.parseBare(body, out), nil
		}
		return out, nil
	}
	choice := decoded.Choices[0]
	out.FinishReason = choice.FinishReason
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for i, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        toolCallID(tc.ID, i),
			Name:      strings.TrimSpace(tc.Function.Name),
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (a *openAICompatAdapter) parseBare(body []byte, out Parsed) Parsed {
	var bare bareResponse
	if err := json.Unmarshal(body, &bare); err != nil {
		return out
	}
	out.Content = bare.Content
	if out.Content == "" {
		out.Content = bare.Text
	}
	var calls []struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Function  *struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	}
	if len(bytes.TrimSpace(bare.ToolCalls)) == 0 || json.Unmarshal(bare.ToolCalls, &calls) != nil {
		return out
	}
	for i, call := range calls {
		name, args := call.Name, call.Arguments
		if call.Function != nil {
			name, args = call.Function.Name, call.Function.Arguments
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        toolCallID(call.ID, i),
			Name:      strings.TrimSpace(name),
			Arguments: decodeArguments(args),
		})
	}
	return out
}

// decodeArguments accepts arguments either as a JSON object or as a string
// holding a JSON object, which is what chat completions actually sends.
// Anything undecodable degrades to an empty map.
func decodeArguments(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		raw = []byte(strings.TrimSpace(encoded))
		if len(raw) == 0 {
			return map[string]any{}
		}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func toolCallID(id string, index int) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return fmt.Sprintf("call_%d", index)
}

func (a *openAICompatAdapter) BackfillArgs(call ToolCall, decls []ToolDeclaration) map[string]any {
	return backfillBooleans(call, decls)
}
