package store

import (
	"context"
	"sync"

	"parley/internal/provider"
)

// Memory keeps history in process. It is the default when no store path is
// configured.
type Memory struct {
	mu       sync.RWMutex
	history  map[string][]provider.Turn
	archived map[string][]provider.Turn
}

func NewMemory() *Memory {
	return &Memory{
		history:  map[string][]provider.Turn{},
		archived: map[string][]provider.Turn{},
	}
}

func (m *Memory) ConversationHistory(ctx context.Context, sessionID string) ([]provider.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneTurns(m.history[sessionID]), nil
}

func (m *Memory) AppendTurns(ctx context.Context, sessionID string, turns []provider.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[sessionID] = append(m.history[sessionID], cloneTurns(turns)...)
	return nil
}

func (m *Memory) ReplaceHistory(ctx context.Context, sessionID string, turns []provider.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[sessionID] = cloneTurns(turns)
	return nil
}

func (m *Memory) DeleteHistory(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
	delete(m.archived, sessionID)
	return nil
}

func (m *Memory) Archive(ctx context.Context, sessionID string, removed []provider.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[sessionID] = append(m.archived[sessionID], cloneTurns(removed)...)
	return nil
}

func (m *Memory) Archived(ctx context.Context, sessionID string) ([]provider.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneTurns(m.archived[sessionID]), nil
}

func (m *Memory) Close() error { return nil }
