package worker

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/roam/internal/cachestorage"
	"github.com/hpungsan/roam/internal/errors"
)

// Install precaches every declared static asset. Assets are fetched
// concurrently; if any fetch fails or is not 2xx, nothing is stored and the
// worker stays installing. On success the worker moves to waiting.
func (w *Worker) Install(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if st := w.State(); st != StateInstalling {
		return errors.NewInvalidState(fmt.Sprintf("worker cannot install from %s", st))
	}

	assets := w.opts.Rules.StaticAssets
	entries := make([]cachestorage.Entry, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range assets {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, w.upstream+path, nil)
			if err != nil {
				return err
			}
			resp, err := w.roundTrip(req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", path, err)
			}
			if !ok2xx(resp.Status) {
				return fmt.Errorf("precache %s: upstream returned %d", path, resp.Status)
			}
			entries[i] = cachestorage.Entry{Key: http.MethodGet + " " + path, Response: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.NewNetworkUnavailable(err)
	}

	if err := w.caches.Bucket(w.opts.Buckets.Static).PutAll(ctx, entries); err != nil {
		return err
	}
	w.logger.Info("precached static assets", "count", len(entries), "bucket", w.opts.Buckets.Static)
	return w.transition(StateWaiting)
}
