package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/builtins"
	"parley/internal/config"
	"parley/internal/core"
	"parley/internal/ipc"
	"parley/internal/logging"
	"parley/internal/protocol"
	"parley/internal/session"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PARLEY_CONFIG", "")
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Provider.Name = session.ProviderMock
	cfg.Server.Address = filepath.Join(t.TempDir(), "core.sock")
	return cfg
}

func TestDaemonServesMockSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = filepath.Join(t.TempDir(), "history.db")

	d, err := wireDaemon(cfg, logging.Discard())
	require.NoError(t, err)
	defer d.close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.run(ctx) }()
	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", cfg.Server.Address)
		if err == nil {
			_ = c.Close()
		}
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	client, err := ipc.Dial("unix", cfg.Server.Address, time.Second)
	require.NoError(t, err)
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer callCancel()
	require.NoError(t, client.Call(callCtx, protocol.CmdSubscribe, protocol.SessionRef{SessionID: "s1"}, nil))
	require.NoError(t, client.Call(callCtx, protocol.CmdMessage, protocol.MessagePayload{SessionID: "s1", Message: json.RawMessage(`"ping"`)}, nil))
	events, err := client.CollectCall(callCtx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventContent, events[0].Type)
	assert.Equal(t, "mock response: ping", events[0].Text)

	cancel()
	require.NoError(t, <-errCh)
}

func TestLoadAgentsDefaultAllowsBuiltins(t *testing.T) {
	decls := builtins.DefaultTools("").Declarations()
	reg, err := loadAgents(config.Agent{}, decls)
	require.NoError(t, err)
	assert.Len(t, reg.FunctionDeclarations(), len(decls))
}

func TestLoadAgentsFromProfileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agents:
  - id: reader
    system_prompt: Read files before answering.
    allowed_tools: [read, ls]
  - id: plain
    system_prompt: No tools.
`), 0o644))
	decls := builtins.DefaultTools("").Declarations()

	reg, err := loadAgents(config.Agent{ProfilePath: path}, decls)
	require.NoError(t, err)
	assert.Equal(t, "reader", reg.ActiveAgent().ID)
	assert.Len(t, reg.FunctionDeclarations(), 2)

	reg, err = loadAgents(config.Agent{ProfilePath: path, Active: "plain"}, decls)
	require.NoError(t, err)
	assert.Empty(t, reg.FunctionDeclarations())

	_, err = loadAgents(config.Agent{ProfilePath: path, Active: "missing"}, decls)
	assert.Error(t, err)
}

func TestRootCommandRejectsInvalidConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var logs bytes.Buffer
	cmd := newRootCmd(&logs)
	cmd.SetArgs([]string{"--approval", "never"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "invalid_config")
}
