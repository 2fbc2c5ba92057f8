// Package store is the persistent local store: a versioned SQLite database
// with one table per collection (itineraries, chat messages, user profile,
// API cache entries, settings). Every collection keeps the full record as
// JSON next to the columns that back its secondary indexes.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/db"
	"github.com/hpungsan/roam/internal/errors"
)

// FileName is the database file created under the base directory.
const FileName = "roam.db"

// Store is safe for concurrent use. It must be initialized before use;
// operations issued earlier fail with STORAGE_NOT_READY.
type Store struct {
	path   string
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	db    *sql.DB

	// opens counts schema opens; concurrent Initialize calls share one.
	opens atomic.Int32

	// sweepBatch bounds each cursor step of SweepExpired.
	sweepBatch int
	// sweepObserver, when set, sees every key SweepExpired visits, in order.
	sweepObserver func(key string, expiresAt int64)
}

// Option customizes a Store.
type Option func(*Store)

// WithConfig applies connection pool settings from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Store) { s.cfg = cfg }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an unopened store rooted at baseDir/roam.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.roam.
func New(baseDir string, opts ...Option) *Store {
	s := &Store{
		path:       filepath.Join(baseDir, FileName),
		logger:     slog.Default(),
		now:        time.Now,
		sweepBatch: 100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize opens the database and applies the schema. It is safe to call
// any number of times from any number of goroutines: concurrent callers
// wait on the same in-flight open, and later calls return immediately.
func (s *Store) Initialize(ctx context.Context) error {
	if s.handle() != nil {
		return nil
	}

	ch := s.group.DoChan("open", func() (any, error) {
		if h := s.handle(); h != nil {
			return h, nil
		}
		h, err := db.Open(s.path, migrations)
		if err != nil {
			return nil, errors.NewStorageUnavailable(err)
		}
		s.opens.Add(1)
		db.ConfigurePool(h, s.cfg)

		s.mu.Lock()
		s.db = h
		s.mu.Unlock()

		s.logger.Debug("local store opened", "path", s.path, "schema_version", SchemaVersion)
		return h, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Ready reports whether Initialize has completed successfully.
func (s *Store) Ready() bool {
	return s.handle() != nil
}

// Close releases the database handle. The store may be initialized again.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// conn returns the open handle or STORAGE_NOT_READY.
func (s *Store) conn() (*sql.DB, error) {
	h := s.handle()
	if h == nil {
		return nil, errors.NewStorageNotReady()
	}
	return h, nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}
