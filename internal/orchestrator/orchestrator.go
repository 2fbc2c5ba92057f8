// Package orchestrator bridges application state to the local store and the
// network. It is the one place that knows whether we are online, what is
// waiting to be synced, and whether a sync is running.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/connectivity"
	"github.com/hpungsan/roam/internal/logging"
	"github.com/hpungsan/roam/internal/model"
	"github.com/hpungsan/roam/internal/store"
)

// Remote is the server side of sync.
type Remote interface {
	SyncItinerary(ctx context.Context, it *model.Itinerary) error
	SendMessage(ctx context.Context, m *model.ChatMessage) error
}

// ConnectivitySource publishes connectivity probes.
type ConnectivitySource interface {
	Subscribe(fn func(connectivity.Status)) (unsubscribe func())
}

// Options tune the orchestrator.
type Options struct {
	// MessageMaxRetries is the number of failed sends after which a message
	// is marked failed. 0 retries forever.
	MessageMaxRetries int
	// PendingPollInterval is how often Run recomputes pending counts.
	PendingPollInterval time.Duration
	// SyncRatePerSecond paces remote calls during a sync. 0 means unpaced.
	SyncRatePerSecond float64
	// DisableAutoSync stops SetConnectivity from starting a sync when the
	// connection comes back. One-shot callers (CLI, MCP) sync explicitly.
	DisableAutoSync bool
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig derives options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MessageMaxRetries:   cfg.MessageMaxRetries,
		PendingPollInterval: cfg.PendingPollInterval(),
		SyncRatePerSecond:   cfg.SyncRatePerSecond,
	}
}

// QualityUnknown is reported before the first connectivity signal.
const QualityUnknown = "unknown"

// State is a snapshot of what the orchestrator knows.
type State struct {
	IsOnline              bool     `json:"is_online"`
	ConnectionQuality     string   `json:"connection_quality"`
	PendingItineraryCount int      `json:"pending_itinerary_count"`
	PendingMessageCount   int      `json:"pending_message_count"`
	LastSyncTime          int64    `json:"last_sync_time,omitempty"` // unix ms, 0 = never
	IsSyncing             bool     `json:"is_syncing"`
	SyncErrors            []string `json:"sync_errors"`
}

func (s State) clone() State {
	s.SyncErrors = append([]string(nil), s.SyncErrors...)
	return s
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store   *store.Store
	remote  Remote
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu    sync.Mutex
	state State

	sends sendRegistry

	lmu       sync.RWMutex
	listeners map[int]func(State)
	nextID    int

	// background tracks syncs started by connectivity transitions.
	background sync.WaitGroup
}

// New builds an orchestrator. The store may still be uninitialized; every
// operation degrades gracefully until it is ready.
func New(st *store.Store, remote Remote, opts Options, logger *slog.Logger) *Orchestrator {
	limit := rate.Inf
	if opts.SyncRatePerSecond > 0 {
		limit = rate.Limit(opts.SyncRatePerSecond)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:     st,
		remote:    remote,
		opts:      opts,
		logger:    logging.OrDefault(logger),
		limiter:   rate.NewLimiter(limit, 1),
		now:       now,
		state:     State{ConnectionQuality: QualityUnknown, SyncErrors: []string{}},
		sends:     sendRegistry{inflight: make(map[string]*send)},
		listeners: make(map[int]func(State)),
	}
}

// State returns a snapshot of the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.clone()
}

// OnChange registers fn to receive a snapshot after every state change.
// Listener panics are recovered and logged.
func (o *Orchestrator) OnChange(fn func(State)) (unsubscribe func()) {
	o.lmu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	o.lmu.Unlock()

	return func() {
		o.lmu.Lock()
		delete(o.listeners, id)
		o.lmu.Unlock()
	}
}

func (o *Orchestrator) emit() {
	snap := o.State()

	o.lmu.RLock()
	fns := make([]func(State), 0, len(o.listeners))
	for _, fn := range o.listeners {
		fns = append(fns, fn)
	}
	o.lmu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("state listener panicked", "panic", r)
				}
			}()
			fn(snap)
		}()
	}
}

// SetConnectivity records a connectivity signal. Every source (probe,
// control endpoint, CLI) reports here. An offline-to-online transition
// with pending work starts exactly one background sync, however many
// sources report the same transition.
func (o *Orchestrator) SetConnectivity(online bool, quality string) {
	if !online {
		quality = string(connectivity.QualityOffline)
	} else if quality == "" {
		quality = QualityUnknown
	}

	o.mu.Lock()
	wasOnline := o.state.IsOnline
	changed := wasOnline != online || o.state.ConnectionQuality != quality
	o.state.IsOnline = online
	o.state.ConnectionQuality = quality
	hasPending := o.state.PendingItineraryCount+o.state.PendingMessageCount > 0
	trigger := online && !wasOnline && hasPending && !o.opts.DisableAutoSync
	if trigger {
		o.background.Add(1)
	}
	o.mu.Unlock()

	if changed {
		o.logger.Info("connectivity changed", "online", online, "quality", quality)
		o.emit()
	}
	if trigger {
		go func() {
			defer o.background.Done()
			if _, err := o.SyncPendingData(context.Background()); err != nil {
				o.logger.Error("automatic sync failed", "error", err)
			}
		}()
	}
}

// ObserveConnectivity feeds every probe from src into SetConnectivity
// until ctx ends.
func (o *Orchestrator) ObserveConnectivity(ctx context.Context, src ConnectivitySource) {
	unsubscribe := src.Subscribe(func(st connectivity.Status) {
		o.SetConnectivity(st.Online, string(st.Quality))
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// Wait blocks until background syncs started by SetConnectivity finish.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// RefreshPendingCounts recomputes the pending counters from the store.
// It is a no-op while the store is not ready.
func (o *Orchestrator) RefreshPendingCounts(ctx context.Context) {
	if !o.store.Ready() {
		return
	}
	itineraries, err := o.store.CountByIndex(ctx, store.Itineraries, "status", string(model.ItinerarySyncPending))
	if err != nil {
		o.logger.Warn("count pending itineraries failed", "error", err)
		return
	}
	messages, err := o.store.CountByIndex(ctx, store.ChatMessages, "status", string(model.MessagePending))
	if err != nil {
		o.logger.Warn("count pending messages failed", "error", err)
		return
	}

	var lastSync int64
	if _, err := o.store.GetSetting(ctx, model.SettingLastSyncTime, &lastSync); err != nil {
		o.logger.Warn("read last sync time failed", "error", err)
	}

	o.mu.Lock()
	changed := o.state.PendingItineraryCount != itineraries || o.state.PendingMessageCount != messages
	o.state.PendingItineraryCount = itineraries
	o.state.PendingMessageCount = messages
	if lastSync > o.state.LastSyncTime {
		o.state.LastSyncTime = lastSync
		changed = true
	}
	o.mu.Unlock()

	if changed {
		o.emit()
	}
}

// Run refreshes pending counts now and then on every poll interval until
// ctx ends.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := o.opts.PendingPollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.RefreshPendingCounts(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.RefreshPendingCounts(ctx)
		}
	}
}
