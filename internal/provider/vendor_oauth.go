package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const NameVendorOAuth = "vendor-oauth"

const defaultVendorOAuthBase = "https://cloudcode-pa.googleapis.com"

// vendorOAuthAdapter speaks the contents/parts wire format used by
// OAuth-authenticated generateContent endpoints. Replies may arrive wrapped
// in a {"response": ...} envelope.
type vendorOAuthAdapter struct{}

func NewVendorOAuthAdapter() Adapter {
	return vendorOAuthAdapter{}
}

func (vendorOAuthAdapter) Name() string { return NameVendorOAuth }

func (vendorOAuthAdapter) FormatSystemPrompt(raw string) string {
	return collapseBlankLines(raw)
}

type vendorTool struct {
	FunctionDeclarations []vendorFunctionDeclaration `json:"functionDeclarations"`
}

type vendorFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

func (vendorOAuthAdapter) FormatTools(decls []ToolDeclaration, allowed []string) any {
	filtered := filterTools(decls, allowed)
	if len(filtered) == 0 {
		return []vendorTool{}
	}
	fns := make([]vendorFunctionDeclaration, 0, len(filtered))
	for _, decl := range filtered {
		fns = append(fns, vendorFunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  toolParameters(decl),
		})
	}
	return []vendorTool{{FunctionDeclarations: fns}}
}

func (vendorOAuthAdapter) IsContinuation(message json.RawMessage) bool {
	return allFunctionResponses(message)
}

func (vendorOAuthAdapter) ToolResults(message json.RawMessage) []ToolResult {
	return functionResponseResults(message)
}

func (vendorOAuthAdapter) UserText(message json.RawMessage) string {
	return plainUserText(message)
}

type vendorRequest struct {
	Model   string             `json:"model"`
	Request vendorInnerRequest `json:"request"`
}

type vendorInnerRequest struct {
	Contents          []vendorContent   `json:"contents"`
	SystemInstruction *vendorContent    `json:"systemInstruction,omitempty"`
	Tools             []vendorTool      `json:"tools,omitempty"`
	ToolConfig        *vendorToolConfig `json:"toolConfig,omitempty"`
}

type vendorToolConfig struct {
	FunctionCallingConfig vendorFunctionCallingConfig `json:"functionCallingConfig"`
}

type vendorFunctionCallingConfig struct {
	Mode string `json:"mode"`
}

type vendorContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []vendorPart `json:"parts"`
}

type vendorPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *vendorFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *vendorFunctionResponse `json:"functionResponse,omitempty"`
}

type vendorFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type vendorFunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

func (vendorOAuthAdapter) BuildRequest(model string, turns []Turn, tools any, continuation bool) ([]byte, error) {
	inner := vendorInnerRequest{Contents: make([]vendorContent, 0, len(turns))}
	callNames := map[string]string{}
	for _, turn := range turns {
		switch turn.Role {
		case RoleSystem:
			inner.SystemInstruction = &vendorContent{Parts: []vendorPart{{Text: turn.Content}}}
		case RoleUser:
			inner.Contents = append(inner.Contents, vendorContent{Role: "user", Parts: []vendorPart{{Text: turn.Content}}})
		case RoleAssistant:
			parts := make([]vendorPart, 0, len(turn.ToolCalls)+1)
			if turn.Content != "" {
				parts = append(parts, vendorPart{Text: turn.Content})
			}
			for _, call := range turn.ToolCalls {
				callNames[call.ID] = call.Name
				parts = append(parts, vendorPart{FunctionCall: &vendorFunctionCall{ID: call.ID, Name: call.Name, Args: nonNilMap(call.Arguments)}})
			}
			if len(parts) == 0 {
				continue
			}
			inner.Contents = append(inner.Contents, vendorContent{Role: "model", Parts: parts})
		case RoleTool:
			name := turn.Name
			if name == "" {
				name = callNames[turn.ToolCallID]
			}
			response := map[string]any{}
			if err := json.Unmarshal([]byte(turn.Content), &response); err != nil || response == nil {
				response = map[string]any{"output": turn.Content}
			}
			part := vendorPart{FunctionResponse: &vendorFunctionResponse{ID: turn.ToolCallID, Name: name, Response: response}}
			// Consecutive tool results travel in one user content.
			if n := len(inner.Contents); n > 0 && inner.Contents[n-1].Role == "user" && inner.Contents[n-1].Parts[0].FunctionResponse != nil {
				inner.Contents[n-1].Parts = append(inner.Contents[n-1].Parts, part)
				continue
			}
			inner.Contents = append(inner.Contents, vendorContent{Role: "user", Parts: []vendorPart{part}})
		}
	}
	if continuation {
		inner.ToolConfig = &vendorToolConfig{FunctionCallingConfig: vendorFunctionCallingConfig{Mode: "NONE"}}
	} else if list, ok := tools.([]vendorTool); ok && len(list) > 0 {
		inner.Tools = list
		inner.ToolConfig = &vendorToolConfig{FunctionCallingConfig: vendorFunctionCallingConfig{Mode: "AUTO"}}
	}
	b, err := json.Marshal(vendorRequest{Model: model, Request: inner})
	if err != nil {
		return nil, fmt.Errorf("vendor_encode_request: %w", err)
	}
	return b, nil
}

func (vendorOAuthAdapter) Endpoint(baseURL, _ string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultVendorOAuthBase
	}
	return base + "/v1internal:generateContent"
}

func (vendorOAuthAdapter) Authorize(req *http.Request, apiKey string) {
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type vendorCandidateReply struct {
	Candidates []struct {
		FinishReason string `json:"finishReason"`
		Content      struct {
			Parts []struct {
				Text         string `json:"text"`
				Thought      bool   `json:"thought"`
				FunctionCall *struct {
					ID   string         `json:"id"`
					Name string         `json:"name"`
					Args map[string]any `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (vendorOAuthAdapter) ParseResponse(body []byte) (Parsed, error) {
	var envelope struct {
		Response *vendorCandidateReply `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Parsed{}, fmt.Errorf("vendor_bad_response: %w", err)
	}
	reply := envelope.Response
	if reply == nil {
		reply = &vendorCandidateReply{}
		if err := json.Unmarshal(body, reply); err != nil {
			return Parsed{}, fmt.Errorf("vendor_bad_response: %w", err)
		}
	}

	var out Parsed
	if reply.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  reply.UsageMetadata.PromptTokenCount,
			OutputTokens: reply.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  reply.UsageMetadata.TotalTokenCount,
		}
	}
	if len(reply.Candidates) == 0 {
		return out, nil
	}
	candidate := reply.Candidates[0]
	out.FinishReason = candidate.FinishReason
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        toolCallID(part.FunctionCall.ID, len(out.ToolCalls)),
				Name:      strings.TrimSpace(part.FunctionCall.Name),
				Arguments: nonNilMap(part.FunctionCall.Args),
			})
			continue
		}
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	out.Content = text.String()
	return out, nil
}

func (vendorOAuthAdapter) BackfillArgs(call ToolCall, _ []ToolDeclaration) map[string]any {
	out := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		out[k] = v
	}
	return out
}
