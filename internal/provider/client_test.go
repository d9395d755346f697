package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCompleteSendsToolsOnNewQuery(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"tool_calls","message":{"tool_calls":[{"id":"c1","function":{"name":"list_dir","arguments":"{}"}}]}}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, NameOpenAICompatible, c.Adapter().Name())

	parsed, err := c.Complete(context.Background(), Request{
		Turns:        []Turn{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "list files"}},
		Tools:        listDirDecls,
		AllowedTools: []string{"list_dir"},
	})
	require.NoError(t, err)
	require.Len(t, parsed.ToolCalls, 1)
	assert.Equal(t, "c1", parsed.ToolCalls[0].ID)
	assert.Equal(t, "auto", captured["tool_choice"])
	assert.Len(t, captured["tools"], 1)
}

func TestClientCompleteContinuationOmitsTools(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"done"}}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{BaseURL: srv.URL + "/v1", Model: "gpt-4o"}, time.Second)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{
		Turns:        []Turn{{Role: RoleUser, Content: "x"}},
		Tools:        listDirDecls,
		AllowedTools: []string{"list_dir", "read"},
		Continuation: true,
	})
	require.NoError(t, err)
	_, hasTools := captured["tools"]
	assert.False(t, hasTools)
	assert.Equal(t, "none", captured["tool_choice"])
}

func TestClientCompleteNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{BaseURL: srv.URL + "/v1", Model: "gpt-4o"}, time.Second)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.Equal(t, "rate limited", perr.Message)
}

func TestClientCompleteMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{BaseURL: srv.URL + "/v1", Model: "gpt-4o"}, time.Second)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "x"}}})
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestClientCompleteRejectsOversizedBody(t *testing.T) {
	prev := maxResponseBody
	maxResponseBody = 64
	t.Cleanup(func() { maxResponseBody = prev })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"`+strings.Repeat("x", 128)+`"}}]}`)
	}))
	defer srv.Close()

	c, err := NewClient(Credentials{BaseURL: srv.URL + "/v1", Model: "gpt-4o"}, time.Second)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response_too_large")
	assert.NotErrorIs(t, err, ErrMalformedResponse)
}

func TestClientCompleteNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(Credentials{BaseURL: url + "/v1", Model: "gpt-4o"}, time.Second)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.False(t, IsAbortedError(err))
	assert.False(t, IsProviderError(err))
}

func TestClientCompleteHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(Credentials{BaseURL: srv.URL + "/v1", Model: "gpt-4o"}, 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Complete(ctx, Request{Turns: []Turn{{Role: RoleUser, Content: "x"}}})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, IsAbortedError(err), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Complete did not return after cancel")
	}
}

func TestNewClientRequiresModel(t *testing.T) {
	_, err := NewClient(Credentials{BaseURL: "http://x"}, 0)
	require.Error(t, err)

	c, err := NewClient(Credentials{Model: "gemini-2.5-flash"}, 0, WithAdapter(NewGenericAdapter()))
	require.NoError(t, err)
	assert.Equal(t, NameGeneric, c.Adapter().Name())
	assert.Equal(t, "gemini-2.5-flash", c.Model())
}

func TestMockScriptAndEcho(t *testing.T) {
	m := NewMock(nil, MockReply{Parsed: Parsed{Content: "scripted"}}, MockReply{Err: errors.New("boom")})

	got, err := m.Complete(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, "scripted", got.Content)

	_, err = m.Complete(context.Background(), Request{})
	require.EqualError(t, err, "boom")

	got, err = m.Complete(context.Background(), Request{Turns: []Turn{{Role: RoleUser, Content: "echo me"}}})
	require.NoError(t, err)
	assert.Equal(t, "mock response: echo me", got.Content)
	assert.Len(t, m.Requests(), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Enqueue(MockReply{Parsed: Parsed{Content: "late"}, Delay: time.Second})
	_, err = m.Complete(ctx, Request{})
	assert.True(t, IsAbortedError(err))
}
