// Package connectivity reports whether the remote side is reachable and how
// good the link looks, by probing a health URL on an interval.
package connectivity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hpungsan/roam/internal/logging"
)

// Quality uses the effective-type vocabulary of the browser Network
// Information API.
type Quality string

const (
	Quality4G      Quality = "4g"
	Quality3G      Quality = "3g"
	Quality2G      Quality = "2g"
	QualitySlow2G  Quality = "slow-2g"
	QualityOffline Quality = "offline"
)

// ClassifyRTT maps a probe round-trip time onto a Quality.
func ClassifyRTT(rtt time.Duration) Quality {
	switch {
	case rtt >= 2000*time.Millisecond:
		return QualitySlow2G
	case rtt >= 1400*time.Millisecond:
		return Quality2G
	case rtt >= 270*time.Millisecond:
		return Quality3G
	default:
		return Quality4G
	}
}

// Status is the outcome of one probe.
type Status struct {
	Online    bool          `json:"online"`
	Quality   Quality       `json:"quality"`
	RTT       time.Duration `json:"rtt"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Monitor probes a health URL. Any HTTP response counts as online; only a
// transport failure counts as offline.
type Monitor struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[int]func(Status)
	nextID int
	last   *Status
}

// NewMonitor returns a monitor for url. A nil client gets a 5s timeout.
func NewMonitor(url string, interval time.Duration, client *http.Client, logger *slog.Logger) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		url:      url,
		interval: interval,
		client:   client,
		logger:   logging.OrDefault(logger),
		subs:     make(map[int]func(Status)),
	}
}

// Subscribe registers fn to receive every probe result. The returned
// function removes the subscription.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Last returns the most recent probe result, if any.
func (m *Monitor) Last() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Status{}, false
	}
	return *m.last, true
}

// Probe performs one check, records it and notifies subscribers.
func (m *Monitor) Probe(ctx context.Context) Status {
	st := m.check(ctx)

	m.mu.Lock()
	m.last = &st
	subs := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
	return st
}

// Run probes immediately and then every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) Status {
	start := time.Now()
	st := Status{Quality: QualityOffline, CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		m.logger.Warn("connectivity probe request invalid", "url", m.url, "error", err)
		return st
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("connectivity probe failed", "url", m.url, "error", err)
		return st
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	st.RTT = time.Since(start)
	st.Online = true
	st.Quality = ClassifyRTT(st.RTT)
	return st
}
