// Package worker is the cache-interception layer. A Worker is an
// http.Handler placed in front of the upstream web origin: it answers each
// request from the network, from versioned cache buckets, or from a
// constructed fallback, depending on what kind of request it is and on
// whether the network is reachable.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/roam/internal/cachestorage"
	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/logging"
	"github.com/hpungsan/roam/internal/model"
)

// State is a lifecycle state.
type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

var transitions = map[State][]State{
	StateInstalling: {StateWaiting, StateRedundant},
	StateWaiting:    {StateActive, StateRedundant},
	StateActive:     {StateRedundant},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Buckets names the cache buckets of one worker version.
type Buckets struct {
	Static    string
	Dynamic   string
	Itinerary string
}

// Allowlist returns the bucket names kept on activation.
func (b Buckets) Allowlist() []string {
	return []string{b.Static, b.Dynamic, b.Itinerary}
}

const defaultStaleAfter = 24 * time.Hour

// Options configures a Worker.
type Options struct {
	UpstreamURL         string
	Buckets             Buckets
	Rules               Rules
	StaleAfter          time.Duration
	ManualActivation    bool
	InstallRetries      int
	OfflinePageMarkdown string
	NotificationRoute   string

	// HTTPClient fetches from upstream. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// Now is the clock used by maintenance. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig derives worker options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		UpstreamURL: cfg.UpstreamURL,
		Buckets: Buckets{
			Static:    cfg.StaticBucket(),
			Dynamic:   cfg.DynamicBucket(),
			Itinerary: cfg.ItineraryBucket(),
		},
		Rules: Rules{
			StaticAssets:      cfg.StaticAssets,
			StaticPrefixes:    cfg.StaticPrefixes,
			CacheableAPIPaths: cfg.CacheableAPIPaths,
		},
		StaleAfter:          cfg.StaleAfter(),
		ManualActivation:    cfg.ManualActivation,
		InstallRetries:      cfg.InstallRetries,
		OfflinePageMarkdown: cfg.OfflinePageMarkdown,
		NotificationRoute:   cfg.NotificationRoute,
	}
}

// ItineraryStore is the part of the local store the worker reconciles.
type ItineraryStore interface {
	ItinerariesByStatus(ctx context.Context, status model.ItineraryStatus) ([]*model.Itinerary, error)
	MarkItinerarySynced(ctx context.Context, id string, revision int64) (bool, error)
}

// SyncClient pushes one itinerary to the remote endpoint.
type SyncClient interface {
	SyncItinerary(ctx context.Context, it *model.Itinerary) error
}

// Worker intercepts requests. Create it with New, then Start it.
type Worker struct {
	opts        Options
	upstream    string
	caches      *cachestorage.Storage
	store       ItineraryStore
	remote      SyncClient
	notifier    Notifier
	logger      *slog.Logger
	client      *http.Client
	now         func() time.Time
	offlinePage []byte

	// lifecycle serializes Install/Activate.
	lifecycle sync.Mutex

	mu    sync.Mutex
	state State
	// pending tracks work extended past a response (waitUntil).
	pending sync.WaitGroup
}

// New builds a worker in the installing state. notifier may be nil.
func New(opts Options, caches *cachestorage.Storage, st ItineraryStore, remote SyncClient, notifier Notifier, logger *slog.Logger) *Worker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	logger = logging.OrDefault(logger)

	return &Worker{
		opts:        opts,
		upstream:    strings.TrimRight(opts.UpstreamURL, "/"),
		caches:      caches,
		store:       st,
		remote:      remote,
		notifier:    notifier,
		logger:      logger,
		client:      client,
		now:         now,
		offlinePage: renderOfflinePage(opts.OfflinePageMarkdown, logger),
		state:       StateInstalling,
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !CanTransition(w.state, to) {
		return errors.NewInvalidState(fmt.Sprintf("worker cannot move from %s to %s", w.state, to))
	}
	w.logger.Info("worker state changed", "from", w.state, "to", to)
	w.state = to
	return nil
}

// controlling reports whether requests are routed through the caches.
func (w *Worker) controlling() bool {
	return w.State() == StateActive
}

// Start installs (retrying with backoff) and then activates, unless manual
// activation is configured, in which case the worker stays waiting until
// SkipWaiting.
func (w *Worker) Start(ctx context.Context) error {
	attempts := w.opts.InstallRetries
	if attempts < 1 {
		attempts = 1
	}

	backoff := 250 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.Install(ctx); err == nil {
			break
		}
		w.logger.Warn("worker install failed", "attempt", i+1, "of", attempts, "error", err)
		if i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}

	if w.opts.ManualActivation {
		w.logger.Info("worker installed; waiting for SKIP_WAITING")
		return nil
	}
	return w.Activate(ctx)
}

// Activate deletes every cache bucket that is not part of this version and
// takes control of request handling.
func (w *Worker) Activate(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if st := w.State(); st != StateWaiting {
		return errors.NewInvalidState(fmt.Sprintf("worker cannot activate from %s", st))
	}

	deleted, err := w.cleanupBuckets(ctx)
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		w.logger.Info("deleted stale cache buckets", "buckets", deleted)
	}
	return w.transition(StateActive)
}

func (w *Worker) cleanupBuckets(ctx context.Context) ([]string, error) {
	keep := make(map[string]bool)
	for _, name := range w.opts.Buckets.Allowlist() {
		keep[name] = true
	}

	names, err := w.caches.Names(ctx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, name := range names {
		if keep[name] {
			continue
		}
		if _, err := w.caches.DeleteBucket(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}

// SkipWaiting activates a waiting worker. Repeating it once active is a
// no-op.
func (w *Worker) SkipWaiting(ctx context.Context) error {
	if w.State() == StateActive {
		return nil
	}
	err := w.Activate(ctx)
	if err != nil && w.State() == StateActive {
		// Lost a race with another activation.
		return nil
	}
	return err
}

// Retire stops controlling requests and waits for extended work to settle.
func (w *Worker) Retire() error {
	if err := w.transition(StateRedundant); err != nil {
		return err
	}
	w.pending.Wait()
	return nil
}

// Wait blocks until all extended work started so far has settled.
func (w *Worker) Wait() {
	w.pending.Wait()
}

// waitUntil runs fn in the background and keeps the worker from being
// retired until it returns. Once the worker is redundant fn is dropped and
// waitUntil reports false.
func (w *Worker) waitUntil(name string, fn func(ctx context.Context)) bool {
	w.mu.Lock()
	if w.state == StateRedundant {
		w.mu.Unlock()
		return false
	}
	w.pending.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("worker background task panicked", "task", name, "panic", r)
			}
		}()
		fn(context.Background())
	}()
	return true
}
