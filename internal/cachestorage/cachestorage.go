// Package cachestorage keeps HTTP responses in named buckets, backed by a
// SQLite file shared by every worker process on the machine. Buckets are
// created on first write and listed in creation order; a cross-bucket Match
// consults them in that same order.
package cachestorage

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/db"
	"github.com/hpungsan/roam/internal/errors"
)

// FileName is the database file created under the base directory.
const FileName = "worker-cache.db"

var migrations = []db.Migration{
	{
		Version: 1,
		SQL: `
		CREATE TABLE IF NOT EXISTS buckets (
		  name       TEXT PRIMARY KEY,
		  created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entries (
		  bucket      TEXT NOT NULL,
		  key         TEXT NOT NULL,
		  status      INTEGER NOT NULL,
		  header_json TEXT NOT NULL,
		  body        BLOB,
		  stored_at   INTEGER NOT NULL,
		  PRIMARY KEY (bucket, key)
		);
		CREATE INDEX IF NOT EXISTS idx_entries_key ON entries(key);
		`,
	},
}

// Response is a stored HTTP response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix ms
}

// Entry pairs a request key with its stored response.
type Entry struct {
	Key      string
	Response *Response
}

// Storage is the set of named buckets.
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if absent) baseDir/worker-cache.db.
func Open(baseDir string, cfg *config.Config) (*Storage, error) {
	h, err := db.Open(filepath.Join(baseDir, FileName), migrations)
	if err != nil {
		return nil, errors.NewStorageUnavailable(err)
	}
	db.ConfigurePool(h, cfg)
	return &Storage{db: h, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Bucket returns a handle to the named bucket. The bucket itself is created
// by the first write.
func (s *Storage) Bucket(name string) *Bucket {
	return &Bucket{s: s, name: name}
}

// Names lists existing buckets in creation order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM buckets ORDER BY rowid`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.NewInternal(err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return names, nil
}

// DeleteBucket removes a bucket and everything in it. It reports whether
// the bucket existed.
func (s *Storage) DeleteBucket(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.NewStorageUnavailable(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ?`, name); err != nil {
		return false, errors.NewStorageWriteFailed(name, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
	if err != nil {
		return false, errors.NewStorageWriteFailed(name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, errors.NewStorageUnavailable(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Match looks key up in every bucket and returns the most recently stored
// copy along with the bucket it came from.
func (s *Storage) Match(ctx context.Context, key string) (*Response, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.bucket, e.status, e.header_json, e.body, e.stored_at
		FROM entries e JOIN buckets b ON b.name = e.bucket
		WHERE e.key = ?
		ORDER BY e.stored_at DESC, e.rowid DESC
		LIMIT 1`, key)

	var bucket string
	resp, err := scanResponse(row, &bucket)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", errors.NewInternal(err)
	}
	return resp, bucket, nil
}

// Bucket is a named set of stored responses keyed by request.
type Bucket struct {
	s    *Storage
	name string
}

// Name returns the bucket name.
func (b *Bucket) Name() string { return b.name }

// Match returns the response stored under key, or nil.
func (b *Bucket) Match(ctx context.Context, key string) (*Response, error) {
	row := b.s.db.QueryRowContext(ctx, `
		SELECT status, header_json, body, stored_at
		FROM entries WHERE bucket = ? AND key = ?`, b.name, key)
	resp, err := scanResponse(row, nil)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return resp, nil
}

// Put stores resp under key, replacing any previous response.
func (b *Bucket) Put(ctx context.Context, key string, resp *Response) error {
	return b.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

// PutAll stores every entry in one transaction: either all are written or
// none are.
func (b *Bucket) PutAll(ctx context.Context, entries []Entry) error {
	tx, err := b.s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageUnavailable(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := b.s.now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)`, b.name, now); err != nil {
		return errors.NewStorageWriteFailed(b.name, err)
	}

	for _, e := range entries {
		header := e.Response.Header
		if header == nil {
			header = http.Header{}
		}
		headerJSON, err := json.Marshal(header)
		if err != nil {
			return errors.NewStorageWriteFailed(b.name, err)
		}
		storedAt := e.Response.StoredAt
		if storedAt == 0 {
			storedAt = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (bucket, key, status, header_json, body, stored_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(bucket, key) DO UPDATE SET
			  status = excluded.status,
			  header_json = excluded.header_json,
			  body = excluded.body,
			  stored_at = excluded.stored_at`,
			b.name, e.Key, e.Response.Status, string(headerJSON), e.Response.Body, storedAt)
		if err != nil {
			return errors.NewStorageWriteFailed(b.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorageUnavailable(err)
	}
	return nil
}

// Delete removes the response stored under key and reports whether one existed.
func (b *Bucket) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.s.db.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ? AND key = ?`, b.name, key)
	if err != nil {
		return false, errors.NewStorageWriteFailed(b.name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Entries returns every stored response in key order.
func (b *Bucket) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := b.s.db.QueryContext(ctx, `
		SELECT key, status, header_json, body, stored_at
		FROM entries WHERE bucket = ? ORDER BY key`, b.name)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var key string
		resp, err := scanResponse(rows, &key)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, Entry{Key: key, Response: resp})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanResponse scans (lead?, status, header_json, body, stored_at). When
// lead is non-nil it receives the first column.
func scanResponse(row rowScanner, lead *string) (*Response, error) {
	var (
		resp       Response
		headerJSON string
		dest       []any
	)
	if lead != nil {
		dest = append(dest, lead)
	}
	dest = append(dest, &resp.Status, &headerJSON, &resp.Body, &resp.StoredAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(headerJSON), &resp.Header); err != nil {
		return nil, err
	}
	return &resp, nil
}
