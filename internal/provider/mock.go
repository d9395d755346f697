package provider

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockReply is one scripted provider outcome.
type MockReply struct {
	Parsed Parsed
	Err    error
	Delay  time.Duration
}

// Mock is a scripted Completer. Replies are consumed in order; once the
// script runs out it echoes the last user turn.
type Mock struct {
	adapter Adapter

	mu       sync.Mutex
	replies  []MockReply
	requests []Request
}

func NewMock(adapter Adapter, replies ...MockReply) *Mock {
	if adapter == nil {
		adapter = NewOpenAICompatAdapter()
	}
	return &Mock{adapter: adapter, replies: replies}
}

func (m *Mock) Adapter() Adapter {
	return m.adapter
}

func (m *Mock) Enqueue(replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// Requests returns the requests received so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *Mock) Complete(ctx context.Context, req Request) (Parsed, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var reply MockReply
	scripted := len(m.replies) > 0
	if scripted {
		reply = m.replies[0]
		m.replies = m.replies[1:]
	}
	m.mu.Unlock()

	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Parsed{}, NewAbortedError("request_aborted", ctx.Err())
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return Parsed{}, NewAbortedError("request_aborted", err)
	}
	if scripted {
		return reply.Parsed, reply.Err
	}
	return Parsed{
		Content:      fmt.Sprintf("mock response: %s", lastUserText(req.Turns)),
		FinishReason: "stop",
	}, nil
}

func lastUserText(turns []Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Content
		}
	}
	return ""
}
