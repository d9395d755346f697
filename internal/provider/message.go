package provider

import (
	"bytes"
	"encoding/json"
	"strings"
)

// messageParts decodes an inbound message as an array of JSON objects. It
// reports false for strings, scalars, empty arrays and arrays holding
// anything other than objects.
func messageParts(message json.RawMessage) ([]map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil || len(raw) == 0 {
		return nil, false
	}
	parts := make([]map[string]json.RawMessage, 0, len(raw))
	for _, item := range raw {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			return nil, false
		}
		parts = append(parts, obj)
	}
	return parts, true
}

type functionResponsePart struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

func decodeFunctionResponse(part map[string]json.RawMessage) (functionResponsePart, bool) {
	raw, ok := part["functionResponse"]
	if !ok {
		return functionResponsePart{}, false
	}
	var fr functionResponsePart
	if err := json.Unmarshal(raw, &fr); err != nil {
		return functionResponsePart{}, false
	}
	return fr, true
}

func allFunctionResponses(message json.RawMessage) bool {
	parts, ok := messageParts(message)
	if !ok {
		return false
	}
	for _, part := range parts {
		if _, ok := decodeFunctionResponse(part); !ok {
			return false
		}
	}
	return true
}

func functionResponseResults(message json.RawMessage) []ToolResult {
	parts, ok := messageParts(message)
	if !ok {
		return nil
	}
	out := make([]ToolResult, 0, len(parts))
	for _, part := range parts {
		fr, ok := decodeFunctionResponse(part)
		if !ok {
			continue
		}
		out = append(out, ToolResult{
			ID:       strings.TrimSpace(fr.ID),
			Name:     strings.TrimSpace(fr.Name),
			Response: nonNilMap(fr.Response),
		})
	}
	return out
}

// plainUserText renders a new-query payload as text: a JSON string as is, an
// array of text parts joined in order, anything else as its raw JSON.
func plainUserText(message json.RawMessage) string {
	trimmed := bytes.TrimSpace(message)
	if len(trimmed) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	if parts, ok := messageParts(trimmed); ok {
		texts := make([]string, 0, len(parts))
		for _, part := range parts {
			raw, ok := part["text"]
			if !ok {
				continue
			}
			var text string
			if err := json.Unmarshal(raw, &text); err == nil && text != "" {
				texts = append(texts, text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	}
	return string(trimmed)
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// responseText renders a tool result payload as the content of a tool turn.
func responseText(response map[string]any) string {
	if len(response) == 0 {
		return "{}"
	}
	if output, ok := response["output"].(string); ok && len(response) == 1 {
		return output
	}
	b, err := json.Marshal(response)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ToolTurn converts a tool result into the tool turn appended to a cycle.
func ToolTurn(result ToolResult) Turn {
	return Turn{
		Role:       RoleTool,
		Content:    responseText(result.Response),
		ToolCallID: result.ID,
		Name:       result.Name,
	}
}
