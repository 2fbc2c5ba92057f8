// Package session holds the credentials used for remote calls. The remote
// client reads the bearer token from here on every request, so rotating a
// token never requires restarting the process.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hpungsan/roam/internal/config"
)

// TokenKey is the key under which the bearer token is stored.
const TokenKey = "api_token"

// Store is a small key/value store for session data.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores value under key. ttl <= 0 means no expiry.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// FromConfig builds the store selected by cfg.SessionBackend and seeds it
// with cfg.APIToken when one is configured.
func FromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	var st Store
	switch cfg.SessionBackend {
	case "", "memory":
		st = NewMemoryStore()
	case "redis":
		rs, err := NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		st = rs
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}

	if cfg.APIToken != "" {
		if err := st.Put(ctx, TokenKey, cfg.APIToken, 0); err != nil {
			return nil, fmt.Errorf("seed session token: %w", err)
		}
	}
	return st, nil
}

type memoryEntry struct {
	value   string
	expires time.Time // zero = never
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
