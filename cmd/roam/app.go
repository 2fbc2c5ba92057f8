package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/connectivity"
	"github.com/hpungsan/roam/internal/orchestrator"
	"github.com/hpungsan/roam/internal/remote"
	"github.com/hpungsan/roam/internal/session"
	"github.com/hpungsan/roam/internal/store"
)

// app holds the components shared by every entry point.
type app struct {
	baseDir  string
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	sessions session.Store
	remote   *remote.Client
	monitor  *connectivity.Monitor
	orch     *orchestrator.Orchestrator
}

// openApp initializes the store and wires the sync stack. One-shot callers
// pass autoSync=false and sync explicitly.
func openApp(ctx context.Context, baseDir string, cfg *config.Config, logger *slog.Logger, autoSync bool) (*app, error) {
	st := store.New(baseDir, store.WithConfig(cfg), store.WithLogger(logger))
	if err := st.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	sessions, err := session.FromConfig(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("session store: %w", err)
	}

	client := remote.New(cfg, sessions)
	opts := orchestrator.OptionsFromConfig(cfg)
	opts.DisableAutoSync = !autoSync
	orch := orchestrator.New(st, client, opts, logger)
	orch.RefreshPendingCounts(ctx)

	return &app{
		baseDir:  baseDir,
		cfg:      cfg,
		logger:   logger,
		store:    st,
		sessions: sessions,
		remote:   client,
		monitor:  connectivity.NewMonitor(cfg.ResolvedHealthURL(), cfg.ProbeInterval(), nil, logger),
		orch:     orch,
	}, nil
}

// probe checks connectivity once and reports it to the orchestrator.
func (a *app) probe(ctx context.Context) connectivity.Status {
	st := a.monitor.Probe(ctx)
	a.orch.SetConnectivity(st.Online, string(st.Quality))
	return st
}

func (a *app) Close() error {
	a.orch.Wait()
	if c, ok := a.sessions.(io.Closer); ok {
		c.Close()
	}
	return a.store.Close()
}
