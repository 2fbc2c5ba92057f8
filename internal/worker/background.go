package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
)

// SyncTagItineraries is the background sync tag that drains pending itineraries.
const SyncTagItineraries = "sync-itineraries"

// SyncReport summarizes one background sync pass.
type SyncReport struct {
	Tag       string `json:"tag"`
	Attempted int    `json:"attempted"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	// Superseded counts items accepted by the remote but edited locally
	// while the request was in flight; they stay pending.
	Superseded int `json:"superseded"`
}

// HandleSync runs the background sync registered under tag. Unknown tags
// are ignored. Items are pushed one at a time; a failed item is logged and
// the rest still run.
func (w *Worker) HandleSync(ctx context.Context, tag string) (SyncReport, error) {
	report := SyncReport{Tag: tag}
	if tag != SyncTagItineraries {
		w.logger.Debug("ignoring unknown sync tag", "tag", tag)
		return report, nil
	}
	if w.store == nil || w.remote == nil {
		return report, errors.NewInvalidState("background sync is not configured")
	}

	pending, err := w.store.ItinerariesByStatus(ctx, model.ItinerarySyncPending)
	if err != nil {
		return report, err
	}

	for _, it := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Attempted++

		if err := w.remote.SyncItinerary(ctx, it); err != nil {
			report.Failed++
			w.logger.Warn("background sync failed", "itinerary", it.ID, "error", err)
			continue
		}
		marked, err := w.store.MarkItinerarySynced(ctx, it.ID, it.Revision)
		if err != nil {
			report.Failed++
			w.logger.Warn("background sync could not record success", "itinerary", it.ID, "error", err)
			continue
		}
		if !marked {
			report.Superseded++
			continue
		}
		report.Synced++
	}

	w.logger.Info("background sync finished", "tag", tag,
		"attempted", report.Attempted, "synced", report.Synced, "failed", report.Failed)
	return report, nil
}

// SyncOutcome is the result of a dispatched sync event.
type SyncOutcome struct {
	Report SyncReport
	Err    error
}

// DispatchSync runs HandleSync for tag as extended work. The sync is
// detached from the caller: it runs to completion even if nobody reads the
// channel, and Retire waits for it. The channel yields exactly one outcome.
func (w *Worker) DispatchSync(tag string) <-chan SyncOutcome {
	out := make(chan SyncOutcome, 1)
	ok := w.waitUntil("sync:"+tag, func(ctx context.Context) {
		res := SyncOutcome{Report: SyncReport{Tag: tag}, Err: errors.NewInternal(fmt.Errorf("sync %s aborted", tag))}
		defer func() { out <- res }()
		res.Report, res.Err = w.HandleSync(ctx, tag)
	})
	if !ok {
		out <- SyncOutcome{
			Report: SyncReport{Tag: tag},
			Err:    errors.NewInvalidState("worker is redundant"),
		}
	}
	return out
}

// Maintain evicts dynamic responses whose Date header is older than the
// staleness window. Responses without a parseable Date are kept. It returns
// the number of evicted entries.
func (w *Worker) Maintain(ctx context.Context) (int, error) {
	bucket := w.caches.Bucket(w.opts.Buckets.Dynamic)
	entries, err := bucket.Entries(ctx)
	if err != nil {
		return 0, err
	}

	staleAfter := w.opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	now := w.now()

	evicted := 0
	for _, e := range entries {
		date, err := http.ParseTime(e.Response.Header.Get("Date"))
		if err != nil {
			continue
		}
		if now.Sub(date) <= staleAfter {
			continue
		}
		deleted, err := bucket.Delete(ctx, e.Key)
		if err != nil {
			w.logger.Warn("maintenance eviction failed", "key", e.Key, "error", err)
			continue
		}
		if deleted {
			evicted++
		}
	}

	if evicted > 0 {
		w.logger.Info("evicted stale responses", "bucket", bucket.Name(), "count", evicted)
	}
	return evicted, nil
}

// Control message types.
const (
	MsgSkipWaiting    = "SKIP_WAITING"
	MsgRunMaintenance = "RUN_MAINTENANCE"
)

// Message is a control command sent to the worker.
type Message struct {
	Type string `json:"type"`
}

// MessageResult reports what a control command did.
type MessageResult struct {
	Type    string `json:"type"`
	State   State  `json:"state"`
	Evicted int    `json:"evicted,omitempty"`
}

// HandleMessage applies a control command. Both commands are safe to repeat.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) (MessageResult, error) {
	res := MessageResult{Type: msg.Type}
	switch msg.Type {
	case MsgSkipWaiting:
		if err := w.SkipWaiting(ctx); err != nil {
			return res, err
		}
	case MsgRunMaintenance:
		n, err := w.Maintain(ctx)
		if err != nil {
			return res, err
		}
		res.Evicted = n
	default:
		return res, errors.NewInvalidRequest(fmt.Sprintf("unknown worker message %q", msg.Type))
	}
	res.State = w.State()
	return res, nil
}
