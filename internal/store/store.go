// Package store persists conversation history per session. Writes are last
// write wins; nothing here is needed for in-memory orchestration to be
// correct.
package store

import (
	"context"

	"parley/internal/provider"
)

type HistoryStore interface {
	ConversationHistory(ctx context.Context, sessionID string) ([]provider.Turn, error)
	AppendTurns(ctx context.Context, sessionID string, turns []provider.Turn) error
	ReplaceHistory(ctx context.Context, sessionID string, turns []provider.Turn) error
	DeleteHistory(ctx context.Context, sessionID string) error
	Close() error
}

// Archiver is implemented by stores that keep the turns removed by
// compression.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, removed []provider.Turn) error
	Archived(ctx context.Context, sessionID string) ([]provider.Turn, error)
}

func cloneTurns(turns []provider.Turn) []provider.Turn {
	out := make([]provider.Turn, len(turns))
	for i, turn := range turns {
		if len(turn.ToolCalls) > 0 {
			calls := make([]provider.ToolCall, len(turn.ToolCalls))
			for j, call := range turn.ToolCalls {
				args := make(map[string]any, len(call.Arguments))
				for k, v := range call.Arguments {
					args[k] = v
				}
				calls[j] = provider.ToolCall{ID: call.ID, Name: call.Name, Arguments: args}
			}
			turn.ToolCalls = calls
		}
		out[i] = turn
	}
	return out
}
