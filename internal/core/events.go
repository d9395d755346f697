package core

import (
	"encoding/json"
	"fmt"

	"parley/internal/protocol"
	"parley/internal/provider"
)

type EventType string

const (
	EventContent         EventType = "content"
	EventToolCallRequest EventType = "tool_call_request"
	EventFinished        EventType = "finished"
	EventError           EventType = "error"
)

const FinishReasonStop = "STOP"

// Event is the orchestrator's output alphabet. Only the fields of the
// variant named by Type are meaningful.
type Event struct {
	Type EventType

	// content
	Text string

	// tool_call_request
	CallID string
	Name   string
	Args   map[string]any

	// finished
	Reason string
	Usage  provider.Usage

	// error
	Message string
	Status  int
}

type Emitter func(Event)

func ContentEvent(text string) Event {
	return Event{Type: EventContent, Text: text}
}

func ToolCallRequestEvent(callID, name string, args map[string]any) Event {
	if args == nil {
		args = map[string]any{}
	}
	return Event{Type: EventToolCallRequest, CallID: callID, Name: name, Args: args}
}

func FinishedEvent(usage provider.Usage) Event {
	return Event{Type: EventFinished, Reason: FinishReasonStop, Usage: usage}
}

func ErrorEvent(message string, status int) Event {
	return Event{Type: EventError, Message: message, Status: status}
}

func (e Event) Terminal() bool {
	return e.Type == EventFinished || e.Type == EventError
}

// MarshalJSON renders the {type, value} wire object.
func (e Event) MarshalJSON() ([]byte, error) {
	var value any
	switch e.Type {
	case EventContent:
		value = protocol.ContentValue{Text: e.Text}
	case EventToolCallRequest:
		args := e.Args
		if args == nil {
			args = map[string]any{}
		}
		value = protocol.ToolCallRequestValue{CallID: e.CallID, Name: e.Name, Args: args}
	case EventFinished:
		value = protocol.FinishedValue{
			Reason: e.Reason,
			UsageMetadata: protocol.UsageMetadata{
				PromptTokenCount:     e.Usage.InputTokens,
				CandidatesTokenCount: e.Usage.OutputTokens,
				TotalTokenCount:      e.Usage.TotalTokens,
			},
		}
	case EventError:
		value = protocol.ErrorValue{Error: protocol.ErrorDetail{Message: e.Message, Status: e.Status}}
	default:
		return nil, fmt.Errorf("invalid_event: %q", e.Type)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(protocol.EventLine{Type: protocol.EventType(e.Type), Value: raw})
}

// ParseEvent decodes a wire event line back into an Event.
func ParseEvent(line protocol.EventLine) (Event, error) {
	switch line.Type {
	case protocol.EvContent:
		var v protocol.ContentValue
		if err := json.Unmarshal(line.Value, &v); err != nil {
			return Event{}, fmt.Errorf("invalid_event_value: %w", err)
		}
		return ContentEvent(v.Text), nil
	case protocol.EvToolCallRequest:
		var v protocol.ToolCallRequestValue
		if err := json.Unmarshal(line.Value, &v); err != nil {
			return Event{}, fmt.Errorf("invalid_event_value: %w", err)
		}
		return ToolCallRequestEvent(v.CallID, v.Name, v.Args), nil
	case protocol.EvFinished:
		var v protocol.FinishedValue
		if err := json.Unmarshal(line.Value, &v); err != nil {
			return Event{}, fmt.Errorf("invalid_event_value: %w", err)
		}
		return Event{Type: EventFinished, Reason: v.Reason, Usage: provider.Usage{
			InputTokens:  v.UsageMetadata.PromptTokenCount,
			OutputTokens: v.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  v.UsageMetadata.TotalTokenCount,
		}}, nil
	case protocol.EvError:
		var v protocol.ErrorValue
		if err := json.Unmarshal(line.Value, &v); err != nil {
			return Event{}, fmt.Errorf("invalid_event_value: %w", err)
		}
		return ErrorEvent(v.Error.Message, v.Error.Status), nil
	default:
		return Event{}, fmt.Errorf("invalid_event: %s", line.Type)
	}
}
