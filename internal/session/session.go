package session

import (
	"sync"
	"time"

	"parley/internal/core"
	"parley/internal/provider"
)

// Session owns one orchestrator and its cycle history. All cycle mutation
// happens on the turn goroutine started by its TurnLoop.
type Session struct {
	ID         string
	Owner      string
	CreatedAt  time.Time
	WorkingDir string
	Model      string

	loop *core.TurnLoop

	// submitMu serializes Submit and Compress so the busy check and the
	// start of a turn are atomic.
	submitMu sync.Mutex

	mu           sync.Mutex
	lastActivity time.Time
	usage        provider.Usage
	window       *window
}

// Info is the metadata returned by list and create.
type Info struct {
	ID               string    `json:"id"`
	Owner            string    `json:"owner"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActivity     time.Time `json:"lastActivity"`
	WorkingDirectory string    `json:"workingDirectory,omitempty"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model,omitempty"`
}

// Details is the full state a reattaching client needs.
type Details struct {
	Info
	State     core.State         `json:"state"`
	Busy      bool               `json:"busy"`
	Usage     provider.Usage     `json:"tokenUsage"`
	Approval  core.ApprovalMode  `json:"approval"`
	ToolCalls []core.TrackedCall `json:"toolCalls"`
	Messages  []Entry            `json:"messages"`
}

type Stats struct {
	MessageCount int            `json:"messageCount"`
	TokenUsage   provider.Usage `json:"tokenUsage"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:               s.ID,
		Owner:            s.Owner,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.lastActivity,
		WorkingDirectory: s.WorkingDir,
		Provider:         s.loop.Orchestrator().Adapter().Name(),
		Model:            s.Model,
	}
}

func (s *Session) Details() Details {
	orch := s.loop.Orchestrator()
	d := Details{
		Info:      s.Info(),
		State:     orch.State(),
		Busy:      s.loop.Busy(),
		Approval:  orch.Tracker().Mode(),
		ToolCalls: orch.Tracker().Snapshot(),
	}
	s.mu.Lock()
	d.Usage = s.usage
	d.Messages = s.window.snapshot()
	s.mu.Unlock()
	return d
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) Usage() provider.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *Session) Busy() bool {
	return s.loop.Busy()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

// record folds one outbound event into the usage total and display window.
func (s *Session) record(ev core.Event, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case core.EventContent:
		s.window.appendText("assistant", ev.Text, now)
	case core.EventToolCallRequest:
		s.window.push(Entry{Type: EntryToolCall, Role: "assistant", Text: ev.Name, CallID: ev.CallID, CreatedAt: now})
	case core.EventFinished:
		s.usage = s.usage.Add(ev.Usage)
	case core.EventError:
		s.window.push(Entry{Type: EntryError, Role: "system", Text: ev.Message, CreatedAt: now})
	}
}

func (s *Session) recordInbound(role, text string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.push(Entry{Type: EntryMessage, Role: role, Text: text, CreatedAt: now})
}
