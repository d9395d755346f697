package core

import (
	"errors"
	"fmt"
	"sync"

	"parley/internal/provider"
)

type ToolCallState string

const (
	ToolPending   ToolCallState = "pending"
	ToolApproved  ToolCallState = "approved"
	ToolRejected  ToolCallState = "rejected"
	ToolCompleted ToolCallState = "completed"
	ToolFailed    ToolCallState = "failed"
)

type ApprovalMode string

const (
	// ApprovalAuto treats every call as approved: pending goes straight to
	// completed or failed.
	ApprovalAuto     ApprovalMode = "auto"
	ApprovalExplicit ApprovalMode = "explicit"
)

var (
	ErrUnknownToolCall   = errors.New("unknown_tool_call")
	ErrToolCallUndecided = errors.New("tool_call_not_decided")
)

type TrackedCall struct {
	Call  provider.ToolCall `json:"call"`
	State ToolCallState     `json:"state"`
}

// ToolCallTracker follows the calls of the current cycle. Decisions arrive
// from the transport while a turn may be running, so it is safe for
// concurrent use.
type ToolCallTracker struct {
	mode ApprovalMode

	mu    sync.Mutex
	order []string
	calls map[string]*TrackedCall
}

func NewToolCallTracker(mode ApprovalMode) *ToolCallTracker {
	if mode != ApprovalExplicit {
		mode = ApprovalAuto
	}
	return &ToolCallTracker{mode: mode, calls: map[string]*TrackedCall{}}
}

func (t *ToolCallTracker) Mode() ApprovalMode {
	return t.mode
}

// Reset forgets every call. A new query abandons the previous cycle.
func (t *ToolCallTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order = nil
	t.calls = map[string]*TrackedCall{}
}

func (t *ToolCallTracker) Track(calls []provider.ToolCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, call := range calls {
		if _, exists := t.calls[call.ID]; !exists {
			t.order = append(t.order, call.ID)
		}
		t.calls[call.ID] = &TrackedCall{Call: call, State: ToolPending}
	}
}

func (t *ToolCallTracker) Decide(callID string, approved bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tc, ok := t.calls[callID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToolCall, callID)
	}
	next := ToolRejected
	if approved {
		next = ToolApproved
	}
	if err := checkToolTransition(t.mode, tc.State, next); err != nil {
		return err
	}
	tc.State = next
	return nil
}

// CheckResults reports whether every result may be resolved now without
// changing any state.
func (t *ToolCallTracker) CheckResults(results []provider.ToolResult) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, result := range results {
		tc, ok := t.calls[result.ID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownToolCall, result.ID)
		}
		if err := checkToolTransition(t.mode, tc.State, resultState(result)); err != nil {
			return err
		}
	}
	return nil
}

// Resolve records results. A response carrying an "error" key, or a result
// for a rejected call, marks the call failed.
func (t *ToolCallTracker) Resolve(results []provider.ToolResult) error {
	if err := t.CheckResults(results); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, result := range results {
		tc := t.calls[result.ID]
		if tc.State == ToolRejected {
			tc.State = ToolFailed
			continue
		}
		tc.State = resultState(result)
	}
	return nil
}

func (t *ToolCallTracker) Snapshot() []TrackedCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TrackedCall, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.calls[id])
	}
	return out
}

func (t *ToolCallTracker) State(callID string) (ToolCallState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tc, ok := t.calls[callID]
	if !ok {
		return "", false
	}
	return tc.State, true
}

func resultState(result provider.ToolResult) ToolCallState {
	if _, failed := result.Response["error"]; failed {
		return ToolFailed
	}
	return ToolCompleted
}

func checkToolTransition(mode ApprovalMode, from, to ToolCallState) error {
	allowed := false
	switch from {
	case ToolPending:
		switch to {
		case ToolApproved, ToolRejected:
			allowed = mode == ApprovalExplicit
		case ToolCompleted, ToolFailed:
			allowed = mode == ApprovalAuto
			if mode == ApprovalExplicit {
				return fmt.Errorf("%w: pending -> %s", ErrToolCallUndecided, to)
			}
		}
	case ToolApproved:
		allowed = to == ToolCompleted || to == ToolFailed
	case ToolRejected:
		allowed = to == ToolCompleted || to == ToolFailed
	}
	if !allowed {
		return fmt.Errorf("invalid_transition: %s -> %s", from, to)
	}
	return nil
}
