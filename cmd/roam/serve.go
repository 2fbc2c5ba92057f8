package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/roam/internal/cachestorage"
	"github.com/hpungsan/roam/internal/server"
	"github.com/hpungsan/roam/internal/worker"
)

const sweepInterval = time.Hour

// serveCmd runs the intercepting proxy with the sync stack behind it.
func serveCmd(a *app) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the offline proxy in front of the upstream origin",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (defaults to listen_addr)"},
		},
		Action: func(c *cli.Context) error {
			addr := c.String("addr")
			if addr == "" {
				addr = a.cfg.ListenAddr
			}
			if err := serve(c.Context, a, addr); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

func serve(ctx context.Context, a *app, addr string) error {
	caches, err := cachestorage.Open(a.baseDir, a.cfg)
	if err != nil {
		return err
	}
	defer caches.Close()

	hub := server.NewHub(a.cfg.CORSOrigins, a.logger)
	w := worker.New(worker.OptionsFromConfig(a.cfg), caches, a.store, a.remote, hub, a.logger)
	if err := w.Start(ctx); err != nil {
		// An uncontrolled worker passes every request straight through.
		a.logger.Warn("worker install failed; serving pass-through", "error", err)
	}

	srv := server.New(a.cfg, a.orch, w, hub, a.logger)
	unsubscribe := a.orch.OnChange(hub.PublishState)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.orch.ObserveConnectivity(ctx, a.monitor)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.orch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				a.orch.ClearExpiredCache(gctx)
				if _, err := w.Maintain(gctx); err != nil {
					a.logger.Warn("cache maintenance failed", "error", err)
				}
			}
		}
	})
	g.Go(func() error {
		defer cancel()
		if err := server.Run(gctx, srv.HTTPServer(addr), a.logger); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if rerr := w.Retire(); rerr != nil {
		a.logger.Debug("worker retire", "error", rerr)
	}
	return err
}
