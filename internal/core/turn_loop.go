package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"parley/internal/cycle"
)

type TurnResult struct {
	TurnID string
	Err    error
}

// TurnLoop owns a session's cycle history and admits one turn at a time.
// A second Submit while a turn is in flight is rejected, never queued.
type TurnLoop struct {
	orch *Orchestrator

	mu        sync.Mutex
	history   cycle.History
	running   bool
	turnSeq   int
	cancel    context.CancelFunc
	done      chan struct{}
	emitter   *runEmitter
	onTurnEnd func(TurnResult)
}

func NewTurnLoop(orch *Orchestrator) *TurnLoop {
	return &TurnLoop{orch: orch}
}

func (l *TurnLoop) Orchestrator() *Orchestrator {
	return l.orch
}

func (l *TurnLoop) SetOnTurnEnd(fn func(TurnResult)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTurnEnd = fn
}

func (l *TurnLoop) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// History returns the current cycle. The value is immutable.
func (l *TurnLoop) History() cycle.History {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history
}

// Submit starts processing message in the background. The returned channel
// is closed once the turn has finished and its events have been emitted.
func (l *TurnLoop) Submit(turnID string, message json.RawMessage, emit Emitter) (<-chan struct{}, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("empty_message")
	}
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil, NewAppError(CodeBusy, "a turn is already in flight", nil)
	}
	l.running = true
	l.turnSeq++
	if turnID == "" {
		turnID = fmt.Sprintf("turn-%d", l.turnSeq)
	}
	ctx, cancel := context.WithCancel(WithTurnID(context.Background(), turnID))
	l.cancel = cancel
	done := make(chan struct{})
	l.done = done
	l.emitter = &runEmitter{emit: emit}
	history := l.history
	emitter := l.emitter
	l.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		next, err := l.orch.Turn(ctx, history, message, emitter.send)

		l.mu.Lock()
		l.history = next
		l.running = false
		l.cancel = nil
		l.emitter = nil
		onTurnEnd := l.onTurnEnd
		l.mu.Unlock()

		if onTurnEnd != nil {
			onTurnEnd(TurnResult{TurnID: turnID, Err: err})
		}
	}()
	return done, nil
}

// Cancel aborts the turn in flight. No event is emitted for it once Cancel
// returns. It reports false when there was nothing to cancel.
func (l *TurnLoop) Cancel() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return false
	}
	l.emitter.stop()
	l.cancel()
	return true
}

// Wait blocks until the most recent turn, if any, has returned.
func (l *TurnLoop) Wait(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runEmitter forwards events until stopped. stop waits for a send already
// in progress.
type runEmitter struct {
	mu      sync.Mutex
	stopped bool
	emit    Emitter
}

func (r *runEmitter) send(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.emit == nil {
		return
	}
	r.emit(ev)
}

func (r *runEmitter) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}
