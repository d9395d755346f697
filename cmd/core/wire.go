package main

import (
	"context"
	"fmt"
	"log/slog"

	"parley/internal/agent"
	"parley/internal/builtins"
	"parley/internal/config"
	"parley/internal/core"
	"parley/internal/ipc"
	"parley/internal/provider"
	"parley/internal/session"
	"parley/internal/store"
)

type daemon struct {
	logger  *slog.Logger
	history store.HistoryStore
	manager *session.Manager
	server  *ipc.Server
}

func wireDaemon(cfg config.Config, logger *slog.Logger) (*daemon, error) {
	agents, err := loadAgents(cfg.Agent, builtins.DefaultTools("").Declarations())
	if err != nil {
		return nil, err
	}
	history, err := openStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	hub := ipc.NewHub(logger.With("component", "hub"))
	manager, err := session.NewManager(session.Config{
		Store:        history,
		Completers:   session.ClientFactory(cfg.Provider.Name, cfg.Provider.Timeout, logger.With("component", "provider")),
		Agents:       agents,
		Sink:         hub.Send,
		DefaultOwner: cfg.Session.DefaultOwner,
		DefaultCredentials: provider.Credentials{
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  cfg.Provider.APIKey,
			Model:   cfg.Provider.Model,
		},
		Approval:       core.ApprovalMode(cfg.Tools.Approval),
		IdleInterval:   cfg.Session.IdleInterval,
		IdleThreshold:  cfg.Session.IdleThreshold,
		CompressRetain: cfg.Session.CompressRetain,
		MessageWindow:  cfg.Session.MessageWindow,
		Logger:         logger.With("component", "session"),
	})
	if err != nil {
		_ = history.Close()
		return nil, fmt.Errorf("wire session manager: %w", err)
	}

	server := ipc.NewServer(cfg.Server.Network, cfg.Server.Address, manager, hub, logger.With("component", "ipc"))
	if err := server.SetCommandTimeout(cfg.Server.CommandTimeout); err != nil {
		_ = history.Close()
		return nil, err
	}
	return &daemon{logger: logger, history: history, manager: manager, server: server}, nil
}

// run starts the idle sweep and serves until ctx is done.
func (d *daemon) run(ctx context.Context) error {
	d.manager.Start()
	return d.server.Serve(ctx)
}

func (d *daemon) close() {
	if err := d.manager.Close(); err != nil {
		d.logger.Warn("close session manager", "error", err)
	}
	if err := d.history.Close(); err != nil {
		d.logger.Warn("close history store", "error", err)
	}
}

func loadAgents(cfg config.Agent, decls []provider.ToolDeclaration) (*agent.Registry, error) {
	var (
		reg *agent.Registry
		err error
	)
	if cfg.ProfilePath == "" {
		// Without a profile source the default agent may use every builtin.
		profile := agent.Default()
		for _, decl := range decls {
			profile.AllowedTools = append(profile.AllowedTools, decl.Name)
		}
		reg = agent.NewRegistry(decls, profile)
	} else if reg, err = agent.LoadFile(cfg.ProfilePath, decls); err != nil {
		return nil, fmt.Errorf("load agent profiles: %w", err)
	}
	if cfg.Active != "" {
		if err := reg.SetActive(cfg.Active); err != nil {
			return nil, fmt.Errorf("select agent %q: %w", cfg.Active, err)
		}
	}
	return reg, nil
}

func openStore(path string) (store.HistoryStore, error) {
	if path == "" {
		return store.NewMemory(), nil
	}
	s, err := store.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return s, nil
}
