package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"parley/internal/core"
	"parley/internal/protocol"
)

// RemoteError is a failed command response.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client is a duplex connection: commands are matched to responses by id
// while events for subscribed sessions arrive on Events.
type Client struct {
	conn   net.Conn
	seq    atomic.Int64
	events chan core.Event

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.ResponseEnvelope
	err     error
	done    chan struct{}
}

func Dial(network, address string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", network, err)
	}
	c := &Client{
		conn:    conn,
		events:  make(chan core.Event, 256),
		pending: map[string]chan protocol.ResponseEnvelope{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields orchestrator events. It is closed when the connection ends.
func (c *Client) Events() <-chan core.Event {
	return c.events
}

// Done is closed when the connection ends; Err then reports why.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.events)
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var readErr error
	for scanner.Scan() {
		line, err := protocol.DecodeServerLine(scanner.Bytes())
		if err != nil {
			readErr = fmt.Errorf("decode server line: %w", err)
			break
		}
		if line.Event != nil {
			ev, err := core.ParseEvent(*line.Event)
			if err != nil {
				readErr = fmt.Errorf("decode event: %w", err)
				break
			}
			c.events <- ev
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[line.Response.ID]
		delete(c.pending, line.Response.ID)
		c.mu.Unlock()
		if ok {
			ch <- *line.Response
		}
	}
	if readErr == nil {
		readErr = scanner.Err()
	}
	if readErr == nil {
		readErr = net.ErrClosed
	}
	c.mu.Lock()
	c.err = readErr
	c.pending = map[string]chan protocol.ResponseEnvelope{}
	c.mu.Unlock()
	close(c.done)
}

// Do sends one command and waits for its response. A response with ok=false
// is returned as a *RemoteError.
func (c *Client) Do(ctx context.Context, typ protocol.CommandType, payload any) (json.RawMessage, error) {
	id := "req-" + strconv.FormatInt(c.seq.Add(1), 10)
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if payload == nil {
		raw = []byte("{}")
	}
	env := protocol.Envelope{V: protocol.Version, ID: id, Type: string(typ), Payload: raw}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	ch := make(chan protocol.ResponseEnvelope, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed: %w", err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	_, err = c.conn.Write(append(b, '\n'))
	c.wmu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write command: %w", err)
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			if resp.Error == nil {
				return nil, &RemoteError{Code: "unknown_error", Message: "command failed"}
			}
			return nil, &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp.Payload, nil
	case <-c.done:
		return nil, fmt.Errorf("connection closed: %w", c.Err())
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Call is Do followed by decoding the payload into out.
func (c *Client) Call(ctx context.Context, typ protocol.CommandType, payload, out any) error {
	raw, err := c.Do(ctx, typ, payload)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", typ, err)
	}
	return nil
}

// CollectCall reads events until the terminal event of one provider call.
func (c *Client) CollectCall(ctx context.Context) ([]core.Event, error) {
	var out []core.Event
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return out, fmt.Errorf("connection closed: %w", c.Err())
			}
			out = append(out, ev)
			if ev.Terminal() {
				return out, nil
			}
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// SendCommand dials, sends one command and returns its response.
func SendCommand(network, address string, cmd protocol.Envelope) (protocol.ResponseEnvelope, error) {
	conn, err := net.DialTimeout(network, address, 2*time.Second)
	if err != nil {
		return protocol.ResponseEnvelope{}, fmt.Errorf("dial %s: %w", network, err)
	}
	defer conn.Close()

	if cmd.V == "" {
		cmd.V = protocol.Version
	}
	if len(cmd.Payload) == 0 {
		cmd.Payload = json.RawMessage("{}")
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return protocol.ResponseEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		return protocol.ResponseEnvelope{}, fmt.Errorf("write command: %w", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return protocol.ResponseEnvelope{}, fmt.Errorf("read response: %w", err)
		}
		parsed, err := protocol.DecodeServerLine(line)
		if err != nil {
			return protocol.ResponseEnvelope{}, fmt.Errorf("decode response: %w", err)
		}
		if parsed.Response != nil && (parsed.Response.ID == cmd.ID || parsed.Response.ID == "") {
			return *parsed.Response, nil
		}
	}
}
