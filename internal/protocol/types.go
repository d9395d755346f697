package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const Version = "1"

type CommandType string

type EventType string

const (
	CmdPing            CommandType = "ping"
	CmdCreateSession   CommandType = "create_session"
	CmdGetSession      CommandType = "get_session"
	CmdListSessions    CommandType = "list_sessions"
	CmdDeleteSession   CommandType = "delete_session"
	CmdSessionStats    CommandType = "session_stats"
	CmdCompressSession CommandType = "compress_session"
	CmdSubscribe       CommandType = "subscribe"
	CmdMessage         CommandType = "message"
	CmdCancel          CommandType = "cancel"
	CmdToolDecision    CommandType = "tool_decision"
)

const (
	EvContent         EventType = "content"
	EvToolCallRequest EventType = "tool_call_request"
	EvFinished        EventType = "finished"
	EvError           EventType = "error"
)

// Envelope is one inbound command line.
type Envelope struct {
	V       string          `json:"v"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      string          `json:"ts,omitempty"`
}

// DecodePayload unmarshals the payload into v. An absent payload leaves v
// untouched.
func (e Envelope) DecodePayload(v any) error {
	if len(bytes.TrimSpace(e.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(e.Payload), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("invalid_payload: %w", err)
	}
	return nil
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseEnvelope answers exactly one command, matched by ID.
type ResponseEnvelope struct {
	V       string          `json:"v"`
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// EventLine is one outbound orchestrator event.
type EventLine struct {
	Type  EventType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

type ContentValue struct {
	Text string `json:"text"`
}

type ToolCallRequestValue struct {
	CallID string         `json:"callId"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type FinishedValue struct {
	Reason        string        `json:"reason"`
	UsageMetadata UsageMetadata `json:"usageMetadata"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type ErrorValue struct {
	Error ErrorDetail `json:"error"`
}

type Credentials struct {
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
}

type CreateSessionPayload struct {
	Owner            string       `json:"owner,omitempty"`
	Credentials      *Credentials `json:"credentials,omitempty"`
	WorkingDirectory string       `json:"workingDirectory,omitempty"`
}

type SessionRef struct {
	SessionID string `json:"sessionId"`
}

type ListSessionsPayload struct {
	Owner string `json:"owner,omitempty"`
}

// MessagePayload carries either a user query (a string or an array of text
// parts) or tool results (an array of functionResponse parts).
type MessagePayload struct {
	SessionID string          `json:"sessionId"`
	Message   json.RawMessage `json:"message"`
}

type ToolDecisionPayload struct {
	SessionID string `json:"sessionId"`
	CallID    string `json:"callId"`
	Approved  bool   `json:"approved"`
}

type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Response map[string]any `json:"response"`
}

type FunctionResponsePart struct {
	FunctionResponse FunctionResponse `json:"functionResponse"`
}

var validCommands = map[CommandType]struct{}{
	CmdPing: {}, CmdCreateSession: {}, CmdGetSession: {}, CmdListSessions: {}, CmdDeleteSession: {}, CmdSessionStats: {},
	CmdCompressSession: {}, CmdSubscribe: {}, CmdMessage: {}, CmdCancel: {}, CmdToolDecision: {},
}

var validEvents = map[EventType]struct{}{
	EvContent: {}, EvToolCallRequest: {}, EvFinished: {}, EvError: {},
}

func DecodeCommand(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid_json: %w", err)
	}

	if env.V == "" {
		env.V = Version
	}
	if env.V != Version {
		return Envelope{}, fmt.Errorf("invalid_version: expected %s, got %s", Version, env.V)
	}
	if env.ID == "" {
		return Envelope{}, fmt.Errorf("missing_id")
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("missing_type")
	}
	if _, ok := validCommands[CommandType(env.Type)]; !ok {
		return Envelope{}, fmt.Errorf("invalid_command: %s", env.Type)
	}
	return env, nil
}

func ValidateEventType(t EventType) error {
	if _, ok := validEvents[t]; !ok {
		return fmt.Errorf("invalid_event: %s", t)
	}
	return nil
}

// ServerLine is one line read by a client: either a command response or an
// event.
type ServerLine struct {
	Response *ResponseEnvelope
	Event    *EventLine
}

func DecodeServerLine(line []byte) (ServerLine, error) {
	var probe struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return ServerLine{}, fmt.Errorf("invalid_json: %w", err)
	}
	if probe.Value != nil {
		var ev EventLine
		if err := json.Unmarshal(line, &ev); err != nil {
			return ServerLine{}, fmt.Errorf("invalid_event: %w", err)
		}
		if err := ValidateEventType(ev.Type); err != nil {
			return ServerLine{}, err
		}
		return ServerLine{Event: &ev}, nil
	}
	var resp ResponseEnvelope
	if err := json.Unmarshal(line, &resp); err != nil {
		return ServerLine{}, fmt.Errorf("invalid_response: %w", err)
	}
	// Lines that failed to decode as a command are answered without an id.
	if resp.ID == "" && resp.Error == nil {
		return ServerLine{}, fmt.Errorf("missing_id")
	}
	return ServerLine{Response: &resp}, nil
}
