// Package cycle holds the turn buffer of one reasoning cycle.
package cycle

import (
	"errors"
	"fmt"

	"parley/internal/provider"
)

var (
	ErrNoPendingToolCalls = errors.New("no_pending_tool_calls")
	ErrUnknownToolCallID  = errors.New("unknown_tool_call_id")
	ErrNoToolResults      = errors.New("no_tool_results")
)

// History is an immutable value. Every mutation returns a new History backed
// by a fresh slice, so callers may hand the previous value to another
// goroutine without copying.
type History struct {
	turns []provider.Turn
}

// StartNew builds [system, ...prior, user]. System turns inside prior are
// dropped so the cycle carries exactly one, placed first.
func StartNew(systemPrompt string, prior []provider.Turn, userText string) History {
	turns := make([]provider.Turn, 0, len(prior)+2)
	turns = append(turns, provider.Turn{Role: provider.RoleSystem, Content: systemPrompt})
	for _, turn := range prior {
		if turn.Role == provider.RoleSystem {
			continue
		}
		turns = append(turns, cloneTurn(turn))
	}
	turns = append(turns, provider.Turn{Role: provider.RoleUser, Content: userText})
	return History{turns: turns}
}

func (h History) Turns() []provider.Turn {
	return cloneTurns(h.turns, 0)
}

func (h History) Len() int {
	return len(h.turns)
}

func (h History) IsEmpty() bool {
	return len(h.turns) == 0
}

// Last returns the final turn, if any.
func (h History) Last() (provider.Turn, bool) {
	if len(h.turns) == 0 {
		return provider.Turn{}, false
	}
	return cloneTurn(h.turns[len(h.turns)-1]), true
}

// PendingToolCalls returns the tool calls of the most recent assistant turn
// that have no tool turn after it yet.
func (h History) PendingToolCalls() []provider.ToolCall {
	idx := h.lastAssistant()
	if idx < 0 {
		return nil
	}
	answered := map[string]struct{}{}
	for _, turn := range h.turns[idx+1:] {
		if turn.Role == provider.RoleTool {
			answered[turn.ToolCallID] = struct{}{}
		}
	}
	var out []provider.ToolCall
	for _, call := range h.turns[idx].ToolCalls {
		if _, ok := answered[call.ID]; ok {
			continue
		}
		out = append(out, call)
	}
	return out
}

func (h History) lastAssistant() int {
	for i := len(h.turns) - 1; i >= 0; i-- {
		switch h.turns[i].Role {
		case provider.RoleAssistant:
			return i
		case provider.RoleTool:
			continue
		default:
			return -1
		}
	}
	return -1
}

// AppendAssistant adds the assistant turn that requested calls.
func (h History) AppendAssistant(content string, calls []provider.ToolCall) History {
	turns := cloneTurns(h.turns, 1)
	turns = append(turns, provider.Turn{
		Role:      provider.RoleAssistant,
		Content:   content,
		ToolCalls: cloneCalls(calls),
	})
	return History{turns: turns}
}

// AppendToolResults adds one tool turn per result. Every result must answer
// a call still pending on the trailing assistant turn.
func (h History) AppendToolResults(results []provider.ToolResult) (History, error) {
	if len(results) == 0 {
		return h, ErrNoToolResults
	}
	pending := h.PendingToolCalls()
	if len(pending) == 0 {
		return h, ErrNoPendingToolCalls
	}
	open := make(map[string]provider.ToolCall, len(pending))
	for _, call := range pending {
		open[call.ID] = call
	}
	turns := cloneTurns(h.turns, len(results))
	for _, result := range results {
		call, ok := open[result.ID]
		if !ok {
			return h, fmt.Errorf("%w: %q", ErrUnknownToolCallID, result.ID)
		}
		delete(open, result.ID)
		if result.Name == "" {
			result.Name = call.Name
		}
		turns = append(turns, provider.ToolTurn(result))
	}
	return History{turns: turns}, nil
}

func cloneTurns(turns []provider.Turn, extra int) []provider.Turn {
	out := make([]provider.Turn, 0, len(turns)+extra)
	for _, turn := range turns {
		out = append(out, cloneTurn(turn))
	}
	return out
}

func cloneTurn(turn provider.Turn) provider.Turn {
	turn.ToolCalls = cloneCalls(turn.ToolCalls)
	return turn
}

func cloneCalls(calls []provider.ToolCall) []provider.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]provider.ToolCall, len(calls))
	for i, call := range calls {
		args := make(map[string]any, len(call.Arguments))
		for k, v := range call.Arguments {
			args[k] = v
		}
		out[i] = provider.ToolCall{ID: call.ID, Name: call.Name, Arguments: args}
	}
	return out
}
