package ipc

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"parley/internal/core"
)

const writeTimeout = 5 * time.Second

// peer is one client connection. Responses and events share it, so every
// write goes through one mutex.
type peer struct {
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

func newPeer(conn net.Conn) *peer {
	return &peer{conn: conn}
}

func (p *peer) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return net.ErrClosed
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = p.conn.Write(b)
	return err
}

func (p *peer) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.conn.Close()
}

// Hub routes orchestrator events to the single connection subscribed to
// each session.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*peer
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{logger: logger, subs: map[string]*peer{}}
}

// subscribe attaches p to sessionID, replacing any previous subscriber.
func (h *Hub) subscribe(sessionID string, p *peer) {
	h.mu.Lock()
	prev := h.subs[sessionID]
	h.subs[sessionID] = p
	h.mu.Unlock()
	if prev != nil && prev != p {
		h.logger.Info("subscriber replaced", "session_id", sessionID)
	}
}

// detach drops every subscription held by p.
func (h *Hub) detach(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		if sub == p {
			delete(h.subs, id)
		}
	}
}

// Drop forgets the subscriber of sessionID.
func (h *Hub) Drop(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sessionID)
}

func (h *Hub) Subscribed(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subs[sessionID]
	return ok
}

// Send pushes ev to the subscriber of sessionID. Without a subscriber the
// event is dropped. Write failures detach the subscriber and never reach
// the caller.
func (h *Hub) Send(sessionID string, ev core.Event) {
	h.mu.Lock()
	p := h.subs[sessionID]
	h.mu.Unlock()
	if p == nil {
		h.logger.Debug("event dropped, no subscriber", "session_id", sessionID, "event", ev.Type)
		return
	}
	if err := p.writeJSON(ev); err != nil {
		h.logger.Warn("event write failed", "session_id", sessionID, "event", ev.Type, "error", err)
		h.detach(p)
	}
}
