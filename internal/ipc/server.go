// Package ipc carries commands and orchestrator events as newline-delimited
// JSON over a stream socket.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"parley/internal/core"
	"parley/internal/protocol"
	"parley/internal/provider"
	"parley/internal/session"
)

const maxLineBytes = 4 << 20

// SessionService is the part of the session manager the server drives.
type SessionService interface {
	Create(ctx context.Context, owner string, creds *provider.Credentials, workingDir string) (*session.Session, error)
	Get(id string) (*session.Session, bool)
	List(owner string) []session.Info
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (session.Stats, error)
	Compress(ctx context.Context, id string) (session.CompressionResult, error)
	Submit(id string, message json.RawMessage) (<-chan struct{}, error)
	Cancel(id string) bool
	DecideTool(id, callID string, approved bool) error
}

type Server struct {
	network  string
	address  string
	sessions SessionService
	hub      *Hub
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	peers    map[*peer]struct{}
	wg       sync.WaitGroup

	dispatchOverride func(context.Context, *peer, protocol.Envelope) protocol.ResponseEnvelope
}

// NewServer serves sessions on network ("unix" or "tcp") at address. hub
// must be the one the session manager sends events through.
func NewServer(network, address string, sessions SessionService, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	if network == "" {
		network = "unix"
	}
	return &Server{
		network:  network,
		address:  address,
		sessions: sessions,
		hub:      hub,
		timeout:  3 * time.Second,
		logger:   logger,
		peers:    map[*peer]struct{}{},
	}
}

func (s *Server) SetCommandTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid_timeout")
	}
	s.timeout = d
	return nil
}

// Addr is the bound address once Serve is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) listen() (net.Listener, error) {
	if s.network == "unix" {
		if err := os.MkdirAll(filepath.Dir(s.address), 0o755); err != nil {
			return nil, fmt.Errorf("create socket dir: %w", err)
		}
		_ = os.Remove(s.address)
	}
	ln, err := net.Listen(s.network, s.address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.network, err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.sessions == nil {
		return fmt.Errorf("session_manager_not_ready")
	}
	ln, err := s.listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("listening", "network", s.network, "address", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		p := newPeer(conn)
		s.mu.Lock()
		s.peers[p] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(ctx, p)
	}

	s.wg.Wait()
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, p := range peers {
		p.close()
	}
	if s.network == "unix" && s.address != "" {
		_ = os.Remove(s.address)
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, p *peer) {
	defer s.wg.Done()
	defer func() {
		s.hub.detach(p)
		p.close()
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		env, decErr := protocol.DecodeCommand(line)
		if decErr != nil {
			_ = p.writeJSON(responseErr("", "invalid_command", decErr.Error()))
			continue
		}
		_ = p.writeJSON(s.runCommand(ctx, p, env))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("connection read failed", "error", err)
	}
}

func (s *Server) runCommand(ctx context.Context, p *peer, env protocol.Envelope) protocol.ResponseEnvelope {
	cmdCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	respCh := make(chan protocol.ResponseEnvelope, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("command panicked", "command", env.Type, "panic", r)
				respCh <- responseErr(env.ID, "internal_error", fmt.Sprintf("internal panic: %v", r))
			}
		}()
		respCh <- s.dispatch(cmdCtx, p, env)
	}()

	select {
	case resp := <-respCh:
		return resp
	case <-cmdCtx.Done():
		return responseErr(env.ID, "timeout", "command timed out")
	}
}

func (s *Server) dispatch(ctx context.Context, p *peer, env protocol.Envelope) protocol.ResponseEnvelope {
	if s.dispatchOverride != nil {
		return s.dispatchOverride(ctx, p, env)
	}

	switch protocol.CommandType(env.Type) {
	case protocol.CmdPing:
		return responseOK(env.ID, "pong", map[string]any{"message": "pong"})

	case protocol.CmdCreateSession:
		var req protocol.CreateSessionPayload
		if err := env.DecodePayload(&req); err != nil {
			return responseErr(env.ID, "invalid_payload", err.Error())
		}
		var creds *provider.Credentials
		if req.Credentials != nil {
			creds = &provider.Credentials{
				BaseURL: req.Credentials.BaseURL,
				APIKey:  req.Credentials.APIKey,
				Model:   req.Credentials.Model,
			}
		}
		sess, err := s.sessions.Create(ctx, req.Owner, creds, req.WorkingDirectory)
		if err != nil {
			return responseFromError(env.ID, "session_create_failed", err)
		}
		return responseOK(env.ID, "session", sess.Info())

	case protocol.CmdGetSession:
		id, errResp := s.sessionRef(env)
		if errResp != nil {
			return *errResp
		}
		sess, ok := s.sessions.Get(id)
		if !ok {
			return responseErr(env.ID, core.CodeNotFound, fmt.Sprintf("session %q not found", id))
		}
		return responseOK(env.ID, "session", sess.Details())

	case protocol.CmdListSessions:
		var req protocol.ListSessionsPayload
		if err := env.DecodePayload(&req); err != nil {
			return responseErr(env.ID, "invalid_payload", err.Error())
		}
		return responseOK(env.ID, "sessions", map[string]any{"sessions": s.sessions.List(req.Owner)})

	case protocol.CmdDeleteSession:
		id, errResp := s.sessionRef(env)
		if errResp != nil {
			return *errResp
		}
		if err := s.sessions.Delete(ctx, id); err != nil {
			return responseFromError(env.ID, "session_delete_failed", err)
		}
		s.hub.Drop(id)
		return responseOK(env.ID, "deleted", map[string]any{"sessionId": id})

	case protocol.CmdSessionStats:
		id, errResp := s.sessionRef(env)
		if errResp != nil {
			return *errResp
		}
		stats, err := s.sessions.Stats(ctx, id)
		if err != nil {
			return responseFromError(env.ID, "stats_failed", err)
		}
		return responseOK(env.ID, "stats", stats)

	case protocol.CmdCompressSession:
		id, errResp := s.sessionRef(env)
		if errResp != nil {
			return *errResp
		}
		res, err := s.sessions.Compress(ctx, id)
		if err != nil {
			return responseFromError(env.ID, "compress_failed", err)
		}
		return responseOK(env.ID, "compressed", res)

	case protocol.CmdSubscribe:
		id, errResp := s.sessionRef(env)
		if errResp != nil {
			return *errResp
		}
		s.hub.subscribe(id, p)
		return responseOK(env.ID, "subscribed", map[string]any{"sessionId": id})

	case protocol.CmdMessage:
		var req protocol.MessagePayload
		if err := env.DecodePayload(&req); err != nil {
			return responseErr(env.ID, "invalid_payload", err.Error())
		}
		if strings.TrimSpace(req.SessionID) == "" {
			return responseErr(env.ID, "invalid_payload", "sessionId is required")
		}
		if len(req.Message) == 0 {
			return responseErr(env.ID, "invalid_payload", "message is required")
		}
		if _, err := s.sessions.Submit(req.SessionID, req.Message); err != nil {
			return responseFromError(env.ID, "message_failed", err)
		}
		return responseOK(env.ID, "accepted", map[string]any{"sessionId": req.SessionID})

	case protocol.CmdCancel:
		id, errResp := s.sessionRef(env)
		if errResp != nil {
			return *errResp
		}
		return responseOK(env.ID, "cancelled", map[string]any{"sessionId": id, "cancelled": s.sessions.Cancel(id)})

	case protocol.CmdToolDecision:
		var req protocol.ToolDecisionPayload
		if err := env.DecodePayload(&req); err != nil {
			return responseErr(env.ID, "invalid_payload", err.Error())
		}
		if req.SessionID == "" || req.CallID == "" {
			return responseErr(env.ID, "invalid_payload", "sessionId and callId are required")
		}
		if err := s.sessions.DecideTool(req.SessionID, req.CallID, req.Approved); err != nil {
			return responseFromError(env.ID, "tool_decision_failed", err)
		}
		return responseOK(env.ID, "tool_decision", map[string]any{"callId": req.CallID, "approved": req.Approved})

	default:
		return responseErr(env.ID, "invalid_command", fmt.Sprintf("unsupported command: %s", env.Type))
	}
}

func (s *Server) sessionRef(env protocol.Envelope) (string, *protocol.ResponseEnvelope) {
	var ref protocol.SessionRef
	if err := env.DecodePayload(&ref); err != nil {
		resp := responseErr(env.ID, "invalid_payload", err.Error())
		return "", &resp
	}
	if strings.TrimSpace(ref.SessionID) == "" {
		resp := responseErr(env.ID, "invalid_payload", "sessionId is required")
		return "", &resp
	}
	return ref.SessionID, nil
}

func responseOK(id, typ string, payload any) protocol.ResponseEnvelope {
	b, err := json.Marshal(payload)
	if err != nil {
		return responseErr(id, "internal_error", fmt.Sprintf("encode payload: %v", err))
	}
	return protocol.ResponseEnvelope{V: protocol.Version, ID: id, Type: typ, OK: true, Payload: b}
}

func responseErr(id, code, message string) protocol.ResponseEnvelope {
	return protocol.ResponseEnvelope{
		V:     protocol.Version,
		ID:    id,
		Type:  "error",
		OK:    false,
		Error: &protocol.ErrorBody{Code: code, Message: message},
	}
}

// responseFromError keeps the code of an AppError and falls back to code
// for anything else.
func responseFromError(id, code string, err error) protocol.ResponseEnvelope {
	var appErr *core.AppError
	if errors.As(err, &appErr) {
		return responseErr(id, appErr.Code, appErr.Message)
	}
	return responseErr(id, code, err.Error())
}
