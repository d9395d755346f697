package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"parley/internal/core"
	"parley/internal/protocol"
)

func WriteTraceNDJSON(w io.Writer, events []core.Event) error {
	for _, ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func ReadTraceNDJSON(r io.Reader) ([]core.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	out := make([]core.Event, 0, 64)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var wire protocol.EventLine
		if err := json.Unmarshal(line, &wire); err != nil {
			return nil, err
		}
		ev, err := core.ParseEvent(wire)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateEventStream checks a captured session stream against the per-call
// ordering rule: content events, then tool call requests, then exactly one
// finished or error event. A stream holds any number of consecutive calls.
func ValidateEventStream(events []core.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("empty_trace")
	}
	const (
		phaseContent = iota
		phaseTools
	)
	phase := phaseContent
	open := false
	seenCalls := map[string]int{}
	for i, ev := range events {
		switch ev.Type {
		case core.EventContent:
			if phase != phaseContent {
				return fmt.Errorf("trace_content_after_tool_call at %d", i)
			}
			open = true
		case core.EventToolCallRequest:
			if ev.CallID == "" {
				return fmt.Errorf("trace_tool_call_missing_id at %d", i)
			}
			if prev, ok := seenCalls[ev.CallID]; ok {
				return fmt.Errorf("trace_duplicate_tool_call %q at %d (first at %d)", ev.CallID, i, prev)
			}
			seenCalls[ev.CallID] = i
			phase = phaseTools
			open = true
		case core.EventFinished, core.EventError:
			phase = phaseContent
			open = false
			seenCalls = map[string]int{}
		default:
			return fmt.Errorf("trace_unknown_event %q at %d", ev.Type, i)
		}
	}
	if open {
		return fmt.Errorf("trace_missing_terminal_event")
	}
	return nil
}
