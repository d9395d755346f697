package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 4096

// maxResponseBody caps a successful reply body.
var maxResponseBody int64 = 32 << 20

// Credentials select and authorize a provider endpoint.
type Credentials struct {
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"-"`
	Model   string `json:"model,omitempty"`
}

// Client performs provider calls through one long-lived http.Client. It is
// safe for concurrent use; sessions sharing credentials may share a Client.
type Client struct {
	adapter     Adapter
	credentials Credentials
	http        *http.Client
	logger      *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithAdapter(adapter Adapter) ClientOption {
	return func(c *Client) {
		if adapter != nil {
			c.adapter = adapter
		}
	}
}

func NewClient(creds Credentials, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(creds.Model) == "" {
		return nil, fmt.Errorf("missing_model")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		credentials: creds,
		http:        &http.Client{Timeout: timeout},
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.adapter == nil {
		c.adapter = DetectProvider(creds.Model, creds.BaseURL)
	}
	return c, nil
}

func (c *Client) Adapter() Adapter {
	return c.adapter
}

func (c *Client) Model() string {
	return c.credentials.Model
}

// Complete sends one request and blocks for the whole reply. The provider
// call is abandoned when ctx is cancelled.
func (c *Client) Complete(ctx context.Context, req Request) (Parsed, error) {
	var tools any
	if !req.Continuation {
		tools = c.adapter.FormatTools(req.Tools, req.AllowedTools)
	}
	body, err := c.adapter.BuildRequest(c.credentials.Model, req.Turns, tools, req.Continuation)
	if err != nil {
		return Parsed{}, err
	}
	endpoint := c.adapter.Endpoint(c.credentials.BaseURL, c.credentials.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Parsed{}, fmt.Errorf("%s_new_request: %w", c.adapter.Name(), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.adapter.Authorize(httpReq, c.credentials.APIKey)

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Parsed{}, NewAbortedError("request_aborted", ctx.Err())
		}
		return Parsed{}, fmt.Errorf("%s_transport: %w", c.adapter.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Parsed{}, &ProviderError{
			Provider:   c.adapter.Name(),
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		if ctx.Err() != nil {
			return Parsed{}, NewAbortedError("request_aborted", ctx.Err())
		}
		return Parsed{}, fmt.Errorf("%s_read_body: %w", c.adapter.Name(), err)
	}
	if int64(len(raw)) > maxResponseBody {
		return Parsed{}, fmt.Errorf("%s_response_too_large: over %d bytes", c.adapter.Name(), maxResponseBody)
	}
	parsed, err := c.adapter.ParseResponse(raw)
	if err != nil {
		return Parsed{}, errors.Join(ErrMalformedResponse, err)
	}
	c.logger.Debug("provider call complete",
		"provider", c.adapter.Name(),
		"model", c.credentials.Model,
		"elapsed", time.Since(started),
		"tool_calls", len(parsed.ToolCalls),
		"input_tokens", parsed.Usage.InputTokens,
	)
	return parsed, nil
}
