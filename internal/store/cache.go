package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
)

// PutProfile replaces the cached user profile.
func (s *Store) PutProfile(ctx context.Context, p *model.UserProfile) error {
	if p == nil {
		return errors.NewInvalidRequest("profile is required")
	}
	if p.FetchedAt == 0 {
		p.FetchedAt = s.nowMillis()
	}
	return s.Put(ctx, UserProfile, model.CurrentUserKey, p, nil)
}

// GetProfile returns the cached user profile, or nil when none is stored.
func (s *Store) GetProfile(ctx context.Context) (*model.UserProfile, error) {
	var p model.UserProfile
	found, err := s.Get(ctx, UserProfile, model.CurrentUserKey, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// SetSetting stores value under key. Last write wins.
func (s *Store) SetSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("setting %q is not serializable: %v", key, err))
	}
	rec := model.Setting{Key: key, Value: data, UpdatedAt: s.nowMillis()}
	return s.Put(ctx, Settings, key, rec, nil)
}

// GetSetting decodes the value stored under key into dst and reports
// whether it was present.
func (s *Store) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	var rec model.Setting
	found, err := s.Get(ctx, Settings, key, &rec)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(rec.Value, dst); err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// PutCacheEntry stores data for url, expiring ttl from now.
func (s *Store) PutCacheEntry(ctx context.Context, url string, data json.RawMessage, ttl time.Duration) (*model.CacheEntry, error) {
	if url == "" {
		return nil, errors.NewInvalidRequest("url is required")
	}
	if ttl <= 0 {
		return nil, errors.NewInvalidRequest("ttl must be positive")
	}
	if !json.Valid(data) {
		return nil, errors.NewInvalidRequest("data must be valid JSON")
	}

	now := s.now()
	e := &model.CacheEntry{
		URL:       url,
		Data:      data,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	idx := map[string]any{"expires_at": e.ExpiresAt, "created_at": e.CreatedAt}
	if err := s.Put(ctx, APICache, url, e, idx); err != nil {
		return nil, err
	}
	return e, nil
}

// GetCacheEntry returns the live entry for url. Expired entries are inert:
// they read as absent until SweepExpired removes them.
func (s *Store) GetCacheEntry(ctx context.Context, url string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	found, err := s.Get(ctx, APICache, url, &e)
	if err != nil || !found {
		return nil, err
	}
	if !e.Live(s.nowMillis()) {
		return nil, nil
	}
	return &e, nil
}

// ClearCache removes every API cache entry and returns how many were removed.
func (s *Store) ClearCache(ctx context.Context) (int, error) {
	h, err := s.conn()
	if err != nil {
		return 0, err
	}
	res, err := h.ExecContext(ctx, "DELETE FROM api_cache")
	if err != nil {
		return 0, errors.NewStorageWriteFailed(APICache, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type sweepRow struct {
	key       string
	expiresAt int64
}

// SweepExpired deletes every API cache entry that expired at or before now.
// It walks the expiry index in ascending (expires_at, key) order, one batch
// at a time, resuming each batch strictly after the last key deleted.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	h, err := s.conn()
	if err != nil {
		return 0, err
	}

	now := s.nowMillis()
	batch := s.sweepBatch
	if batch <= 0 {
		batch = 100
	}

	var (
		removed int
		cursor  *sweepRow
	)
	for {
		rows, err := s.nextSweepBatch(ctx, h, now, cursor, batch)
		if err != nil {
			return removed, err
		}
		if len(rows) == 0 {
			break
		}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			for _, r := range rows {
				if s.sweepObserver != nil {
					s.sweepObserver(r.key, r.expiresAt)
				}
				if _, err := tx.ExecContext(ctx, "DELETE FROM api_cache WHERE key = ?", r.key); err != nil {
					return errors.NewStorageWriteFailed(APICache, err)
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed += len(rows)

		last := rows[len(rows)-1]
		cursor = &last
		if len(rows) < batch {
			break
		}
	}

	if removed > 0 {
		s.logger.Debug("swept expired cache entries", "removed", removed)
	}
	return removed, nil
}

func (s *Store) nextSweepBatch(ctx context.Context, q querier, now int64, after *sweepRow, limit int) ([]sweepRow, error) {
	query := `SELECT key, expires_at FROM api_cache WHERE expires_at <= ?`
	args := []any{now}
	if after != nil {
		query += ` AND (expires_at > ? OR (expires_at = ? AND key > ?))`
		args = append(args, after.expiresAt, after.expiresAt, after.key)
	}
	query += ` ORDER BY expires_at, key LIMIT ?`
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []sweepRow
	for rows.Next() {
		var r sweepRow
		if err := rows.Scan(&r.key, &r.expiresAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
