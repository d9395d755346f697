// Package session tracks live conversations: one orchestrator and cycle
// history per session id, plus idle eviction and history compression.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/internal/clock"
	"parley/internal/core"
	"parley/internal/provider"
	"parley/internal/store"
)

const (
	DefaultOwner         = "local"
	DefaultIdleInterval  = time.Hour
	DefaultIdleThreshold = time.Hour
	DefaultMessageWindow = 200
)

// Sink delivers one event toward the client subscribed to sessionID.
type Sink func(sessionID string, ev core.Event)

type Config struct {
	Store              store.HistoryStore
	Completers         CompleterFactory
	Agents             core.AgentSource
	Sink               Sink
	DefaultOwner       string
	DefaultCredentials provider.Credentials
	Approval           core.ApprovalMode
	IdleInterval       time.Duration
	IdleThreshold      time.Duration
	CompressRetain     int
	MessageWindow      int
	Clock              clock.Clock
	Logger             *slog.Logger
}

// Manager owns the session map. Its mutex guards the map only and is never
// held while a provider call runs.
type Manager struct {
	cfg       Config
	compactor Compactor
	clock     clock.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Completers == nil {
		return nil, fmt.Errorf("missing_completer_factory")
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	if strings.TrimSpace(cfg.DefaultOwner) == "" {
		cfg.DefaultOwner = DefaultOwner
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = DefaultIdleThreshold
	}
	if cfg.MessageWindow <= 0 {
		cfg.MessageWindow = DefaultMessageWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		cfg:       cfg,
		compactor: NewCompactor(cfg.CompressRetain),
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		sessions:  map[string]*Session{},
		stop:      make(chan struct{}),
	}, nil
}

func notFound(id string) error {
	return core.NewAppError(core.CodeNotFound, fmt.Sprintf("session %q not found", id), nil)
}

// Create allocates a session. No provider call is made. Credential fields
// left empty fall back to the manager defaults.
func (m *Manager) Create(ctx context.Context, owner string, creds *provider.Credentials, workingDir string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := m.newSession(uuid.NewString(), owner, creds, workingDir)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("session created", "session_id", s.ID, "owner", s.Owner, "provider", s.loop.Orchestrator().Adapter().Name())
	return s, nil
}

func (m *Manager) newSession(id, owner string, creds *provider.Credentials, workingDir string) (*Session, error) {
	if strings.TrimSpace(owner) == "" {
		owner = m.cfg.DefaultOwner
	}
	resolved := m.cfg.DefaultCredentials
	if creds != nil {
		if creds.BaseURL != "" {
			resolved.BaseURL = creds.BaseURL
		}
		if creds.APIKey != "" {
			resolved.APIKey = creds.APIKey
		}
		if creds.Model != "" {
			resolved.Model = creds.Model
		}
	}
	completer, err := m.cfg.Completers(resolved)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	orch := core.NewOrchestrator(core.Config{
		SessionID:   id,
		Completer:   completer,
		Agents:      m.cfg.Agents,
		Store:       m.cfg.Store,
		Environment: core.Environment{WorkingDir: workingDir},
		Approval:    m.cfg.Approval,
		Clock:       m.clock,
		Logger:      m.logger,
	})
	s := &Session{
		ID:           id,
		Owner:        owner,
		CreatedAt:    now,
		WorkingDir:   workingDir,
		Model:        resolved.Model,
		loop:         core.NewTurnLoop(orch),
		lastActivity: now,
		window:       newWindow(m.cfg.MessageWindow),
	}
	s.loop.SetOnTurnEnd(func(res core.TurnResult) {
		if res.Err != nil {
			m.logger.Debug("turn ended", "session_id", id, "turn_id", res.TurnID, "error", res.Err)
		}
	})
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns metadata for owner's sessions, oldest first. An empty owner
// lists every session.
func (m *Manager) List(owner string) []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if owner == "" || s.Owner == owner {
			sessions = append(sessions, s)
		}
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Delete removes the session and its persisted history. Unknown ids are a
// no-op.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.loop.Cancel()
		if err := s.loop.Wait(ctx); err != nil {
			return fmt.Errorf("wait for cancelled turn: %w", err)
		}
		m.logger.Info("session deleted", "session_id", id)
	}
	if err := m.cfg.Store.DeleteHistory(ctx, id); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

// Submit starts a turn for message, a JSON string or an array of parts. An
// unknown id creates the session for the default owner. It fails with a busy
// AppError while a turn is in flight. The returned channel closes when the
// turn has finished.
func (m *Manager) Submit(id string, message json.RawMessage) (<-chan struct{}, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty_session_id")
	}
	s, err := m.getOrCreate(id)
	if err != nil {
		return nil, err
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if s.loop.Busy() {
		return nil, core.NewAppError(core.CodeBusy, "a turn is already in flight", nil)
	}
	now := m.clock.Now()
	s.touch(now)

	adapter := s.loop.Orchestrator().Adapter()
	if adapter.IsContinuation(message) {
		s.recordInbound("tool", fmt.Sprintf("%d tool result(s)", len(adapter.ToolResults(message))), now)
	} else {
		s.recordInbound("user", adapter.UserText(message), now)
	}

	sink := m.cfg.Sink
	return s.loop.Submit("", message, func(ev core.Event) {
		s.record(ev, m.clock.Now())
		if sink == nil {
			return
		}
		sink(s.ID, ev)
	})
}

// getOrCreate touches the session before releasing m.mu so the idle sweep
// cannot evict it between lookup and the start of the turn.
func (m *Manager) getOrCreate(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.touch(m.clock.Now())
		return s, nil
	}
	s, err := m.newSession(id, "", nil, "")
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	m.logger.Info("session created on first message", "session_id", id)
	return s, nil
}

// Cancel aborts the turn in flight for id. It reports whether there was
// one.
func (m *Manager) Cancel(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return s.loop.Cancel()
}

// DecideTool records an approval decision for a pending call.
func (m *Manager) DecideTool(id, callID string, approved bool) error {
	s, ok := m.Get(id)
	if !ok {
		return notFound(id)
	}
	if err := s.loop.Orchestrator().Tracker().Decide(callID, approved); err != nil {
		return core.NewAppError(core.CodeConflict, err.Error(), err)
	}
	return nil
}

func (m *Manager) Stats(ctx context.Context, id string) (Stats, error) {
	s, ok := m.Get(id)
	if !ok {
		return Stats{}, notFound(id)
	}
	turns, err := m.cfg.Store.ConversationHistory(ctx, id)
	if err != nil {
		return Stats{}, fmt.Errorf("load history: %w", err)
	}
	return Stats{MessageCount: len(turns), TokenUsage: s.Usage()}, nil
}

// Compress reduces the persisted history to its system turns plus the most
// recent non-system turns. Removed turns are archived when the store
// supports it.
func (m *Manager) Compress(ctx context.Context, id string) (CompressionResult, error) {
	s, ok := m.Get(id)
	if !ok {
		return CompressionResult{}, notFound(id)
	}
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	if s.loop.Busy() {
		return CompressionResult{}, core.NewAppError(core.CodeBusy, "cannot compress while a turn is in flight", nil)
	}

	turns, err := m.cfg.Store.ConversationHistory(ctx, id)
	if err != nil {
		return CompressionResult{}, fmt.Errorf("load history: %w", err)
	}
	kept, removed, result := m.compactor.Compact(turns)
	if len(removed) == 0 {
		return result, nil
	}
	if archiver, ok := m.cfg.Store.(store.Archiver); ok {
		if err := archiver.Archive(ctx, id, removed); err != nil {
			return CompressionResult{}, fmt.Errorf("archive history: %w", err)
		}
	}
	if err := m.cfg.Store.ReplaceHistory(ctx, id, kept); err != nil {
		return CompressionResult{}, fmt.Errorf("replace history: %w", err)
	}
	m.logger.Info("session compressed",
		"session_id", id,
		"removed", result.MessagesRemoved,
		"retained", result.MessagesRetained,
		"ratio", result.CompressionRatio,
	)
	return result, nil
}

// Cleanup evicts sessions idle for longer than the threshold. Busy sessions
// are skipped. Persisted history survives eviction.
func (m *Manager) Cleanup() []string {
	now := m.clock.Now()
	m.mu.Lock()
	var evicted []string
	for id, s := range m.sessions {
		if s.loop.Busy() || now.Sub(s.LastActivity()) <= m.cfg.IdleThreshold {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, id)
	}
	m.mu.Unlock()

	sort.Strings(evicted)
	for _, id := range evicted {
		m.logger.Info("session evicted", "session_id", id)
	}
	return evicted
}

// Start runs the idle sweep on its own ticker until Close.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		ticker := m.clock.NewTicker(m.cfg.IdleInterval)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-m.stop:
					return
				case <-ticker.C:
					m.sweep()
				}
			}
		}()
	})
}

func (m *Manager) sweep() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("idle sweep panicked", "panic", r)
		}
	}()
	m.Cleanup()
}

// Close stops the sweep and cancels every turn in flight.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.loop.Cancel()
	}
	return nil
}

// IsBusy reports whether err is the rejection of a concurrent turn.
func IsBusy(err error) bool {
	return core.ErrorCode(err) == core.CodeBusy
}

// IsNotFound reports whether err names an unknown session.
func IsNotFound(err error) bool {
	var appErr *core.AppError
	return errors.As(err, &appErr) && appErr.Code == core.CodeNotFound
}
