package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"parley/internal/agent"
	"parley/internal/clock"
	"parley/internal/cycle"
	"parley/internal/provider"
)

type State string

const (
	StateIdle                State = "idle"
	StateClassifying         State = "classifying"
	StateRequesting          State = "requesting"
	StateStreaming           State = "streaming"
	StateAwaitingToolResults State = "awaiting_tool_results"
	StateDone                State = "done"
)

var transitions = map[State][]State{
	StateIdle:                {StateClassifying},
	StateClassifying:         {StateRequesting, StateIdle},
	StateRequesting:          {StateStreaming, StateIdle},
	StateStreaming:           {StateAwaitingToolResults, StateDone},
	StateAwaitingToolResults: {StateIdle},
	StateDone:                {StateIdle},
}

// AgentSource supplies the active profile and its whitelisted tools.
type AgentSource interface {
	ActiveAgent() agent.Profile
	FunctionDeclarations() []provider.ToolDeclaration
}

// HistoryStore is the persisted conversation of a session.
type HistoryStore interface {
	ConversationHistory(ctx context.Context, sessionID string) ([]provider.Turn, error)
	AppendTurns(ctx context.Context, sessionID string, turns []provider.Turn) error
}

type Config struct {
	SessionID   string
	Completer   provider.Completer
	Agents      AgentSource
	Store       HistoryStore
	Environment Environment
	Approval    ApprovalMode
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Orchestrator runs one user turn at a time for a single session. The cycle
// history is passed in and returned, never held.
type Orchestrator struct {
	sessionID string
	completer provider.Completer
	agents    AgentSource
	store     HistoryStore
	env       Environment
	clock     clock.Clock
	tracker   *ToolCallTracker
	logger    *slog.Logger

	mu    sync.Mutex
	state State
}

func NewOrchestrator(cfg Config) *Orchestrator {
	o := &Orchestrator{
		sessionID: cfg.SessionID,
		completer: cfg.Completer,
		agents:    cfg.Agents,
		store:     cfg.Store,
		env:       cfg.Environment.withDefaults(),
		clock:     cfg.Clock,
		tracker:   NewToolCallTracker(cfg.Approval),
		logger:    cfg.Logger,
		state:     StateIdle,
	}
	if o.agents == nil {
		o.agents = agent.NewRegistry(nil)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Tracker() *ToolCallTracker {
	return o.tracker
}

func (o *Orchestrator) Adapter() provider.Adapter {
	return o.completer.Adapter()
}

func (o *Orchestrator) transition(next State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, allowed := range transitions[o.state] {
		if allowed == next {
			o.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid_transition: %s -> %s", o.state, next)
}

func (o *Orchestrator) settle() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateIdle
}

// Turn processes one inbound message against h and returns the updated
// history. On any failure the input history is returned unchanged. Provider
// and conflict failures emit a single error event; a cancelled ctx emits
// nothing further.
func (o *Orchestrator) Turn(ctx context.Context, h cycle.History, message json.RawMessage, emit Emitter) (cycle.History, error) {
	if err := o.transition(StateClassifying); err != nil {
		return h, err
	}
	defer o.settle()

	logger := o.logger.With("session_id", o.sessionID, "turn_id", TurnIDFromContext(ctx))
	adapter := o.completer.Adapter()
	decls := o.agents.FunctionDeclarations()

	var (
		next    cycle.History
		req     provider.Request
		persist []provider.Turn
		results []provider.ToolResult
	)
	continuation := adapter.IsContinuation(message)
	if continuation {
		results = adapter.ToolResults(message)
		err := o.tracker.CheckResults(results)
		if err == nil {
			next, err = h.AppendToolResults(results)
		}
		if err != nil {
			logger.Warn("continuation rejected", "error", err)
			appErr := NewAppError(CodeConflict, err.Error(), err)
			emit(ErrorEvent(appErr.Message, appErr.Status()))
			return h, appErr
		}
		persist = next.Turns()[h.Len():]
		req = provider.Request{Turns: next.Turns(), Continuation: true}
	} else {
		profile := o.agents.ActiveAgent()
		userText := adapter.UserText(message)
		system := adapter.FormatSystemPrompt(o.env.systemPrompt(profile.SystemPrompt, o.clock.Now()))
		next = cycle.StartNew(system, o.priorHistory(ctx, logger), userText)
		persist = []provider.Turn{{Role: provider.RoleUser, Content: userText}}
		req = provider.Request{Turns: next.Turns(), Tools: decls, AllowedTools: profile.AllowedTools}
	}

	if err := ctx.Err(); err != nil {
		return h, NewAppError(CodeCancelled, "turn cancelled", err)
	}
	if err := o.transition(StateRequesting); err != nil {
		return h, err
	}
	logger.Debug("provider request", "provider", adapter.Name(), "continuation", continuation, "turns", len(req.Turns))
	parsed, err := o.completer.Complete(ctx, req)
	if ctx.Err() != nil || provider.IsAbortedError(err) {
		logger.Info("turn cancelled", "error", err)
		return h, NewAppError(CodeCancelled, "turn cancelled", ctx.Err())
	}
	if err != nil {
		logger.Warn("provider call failed", "error", err)
		emit(ErrorEvent(err.Error(), http.StatusInternalServerError))
		return h, NewAppError(CodeProviderError, err.Error(), err)
	}
	if err := o.transition(StateStreaming); err != nil {
		return h, err
	}

	if continuation {
		if err := o.tracker.Resolve(results); err != nil {
			logger.Warn("tool results out of sync", "error", err)
		}
	} else {
		o.tracker.Reset()
	}
	if len(parsed.ToolCalls) > 0 {
		next = next.AppendAssistant(parsed.Content, parsed.ToolCalls)
		o.tracker.Track(parsed.ToolCalls)
	}
	if parsed.Content != "" {
		emit(ContentEvent(parsed.Content))
	}
	for _, call := range parsed.ToolCalls {
		emit(ToolCallRequestEvent(call.ID, call.Name, adapter.BackfillArgs(call, decls)))
	}
	emit(FinishedEvent(parsed.Usage))

	if parsed.Content != "" || len(parsed.ToolCalls) > 0 {
		persist = append(persist, provider.Turn{Role: provider.RoleAssistant, Content: parsed.Content, ToolCalls: parsed.ToolCalls})
	}
	o.persist(ctx, logger, persist)

	final := StateDone
	if len(parsed.ToolCalls) > 0 {
		final = StateAwaitingToolResults
	}
	if err := o.transition(final); err != nil {
		return h, err
	}
	return next, nil
}

func (o *Orchestrator) priorHistory(ctx context.Context, logger *slog.Logger) []provider.Turn {
	if o.store == nil {
		return nil
	}
	prior, err := o.store.ConversationHistory(ctx, o.sessionID)
	if err != nil {
		logger.Warn("load conversation history", "error", err)
		return nil
	}
	return dropUnansweredToolCalls(prior)
}

// persist is best effort: the in-memory cycle is authoritative for the
// current turn.
func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, turns []provider.Turn) {
	if o.store == nil || len(turns) == 0 {
		return
	}
	// A cancelled turn may belong to a deleted session.
	if err := ctx.Err(); err != nil {
		logger.Info("skip persisting cancelled turn", "turns", len(turns))
		return
	}
	if err := o.store.AppendTurns(context.WithoutCancel(ctx), o.sessionID, turns); err != nil {
		logger.Warn("persist turns", "error", err, "turns", len(turns))
	}
}

// dropUnansweredToolCalls keeps only complete tool exchanges. An assistant
// call survives when a tool turn directly after it answers it; a tool turn
// survives only as an answer to the assistant turn right before it.
// Abandoned cycles and compression leave stragglers of both kinds. Fallback
// call ids repeat across cycles, so pairing never looks past the adjacent
// tool turns.
func dropUnansweredToolCalls(turns []provider.Turn) []provider.Turn {
	out := make([]provider.Turn, 0, len(turns))
	for i := 0; i < len(turns); {
		turn := turns[i]
		if turn.Role == provider.RoleTool {
			i++
			continue
		}
		if turn.Role != provider.RoleAssistant || len(turn.ToolCalls) == 0 {
			out = append(out, turn)
			i++
			continue
		}

		j := i + 1
		for j < len(turns) && turns[j].Role == provider.RoleTool {
			j++
		}
		results := turns[i+1 : j]
		i = j

		answered := map[string]struct{}{}
		for _, res := range results {
			answered[res.ToolCallID] = struct{}{}
		}
		issued := map[string]struct{}{}
		kept := make([]provider.ToolCall, 0, len(turn.ToolCalls))
		for _, call := range turn.ToolCalls {
			if _, ok := answered[call.ID]; ok {
				kept = append(kept, call)
				issued[call.ID] = struct{}{}
			}
		}
		if len(kept) == 0 {
			if turn.Content != "" {
				turn.ToolCalls = nil
				out = append(out, turn)
			}
			continue
		}
		turn.ToolCalls = kept
		out = append(out, turn)
		for _, res := range results {
			if _, ok := issued[res.ToolCallID]; ok {
				out = append(out, res)
				delete(issued, res.ToolCallID)
			}
		}
	}
	return out
}
