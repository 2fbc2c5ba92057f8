package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hpungsan/roam/internal/errors"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookup(collection string) (collectionDef, error) {
	def, ok := collections[collection]
	if !ok {
		return collectionDef{}, errors.NewInvalidRequest(fmt.Sprintf("unknown collection %q", collection))
	}
	return def, nil
}

// Put inserts or replaces the record stored under key. indexes supplies a
// value for every secondary index column of the collection.
func (s *Store) Put(ctx context.Context, collection, key string, record any, indexes map[string]any) error {
	h, err := s.conn()
	if err != nil {
		return err
	}
	return putRecord(ctx, h, collection, key, record, indexes)
}

// Get decodes the record stored under key into dst. It reports false when
// no record exists.
func (s *Store) Get(ctx context.Context, collection, key string, dst any) (bool, error) {
	h, err := s.conn()
	if err != nil {
		return false, err
	}
	return getRecord(ctx, h, collection, key, dst)
}

// GetAll returns every record of the collection in key order.
func (s *Store) GetAll(ctx context.Context, collection string) ([]json.RawMessage, error) {
	h, err := s.conn()
	if err != nil {
		return nil, err
	}
	def, err := lookup(collection)
	if err != nil {
		return nil, err
	}
	return queryRecords(ctx, h, "SELECT record FROM "+def.table+" ORDER BY key")
}

// QueryByIndex returns every record whose index column equals value,
// ordered by that column and then by key.
func (s *Store) QueryByIndex(ctx context.Context, collection, index string, value any) ([]json.RawMessage, error) {
	h, err := s.conn()
	if err != nil {
		return nil, err
	}
	def, col, err := indexColumn(collection, index)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT record FROM %s WHERE %s = ? ORDER BY %s, key", def.table, col, col)
	return queryRecords(ctx, h, query, value)
}

// QueryByIndexUpTo returns every record whose index column is at most
// upper, ordered by that column and then by key.
func (s *Store) QueryByIndexUpTo(ctx context.Context, collection, index string, upper any) ([]json.RawMessage, error) {
	h, err := s.conn()
	if err != nil {
		return nil, err
	}
	def, col, err := indexColumn(collection, index)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT record FROM %s WHERE %s <= ? ORDER BY %s, key", def.table, col, col)
	return queryRecords(ctx, h, query, upper)
}

// Delete removes the record stored under key. Deleting a missing key is
// not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	h, err := s.conn()
	if err != nil {
		return err
	}
	def, err := lookup(collection)
	if err != nil {
		return err
	}
	if _, err := h.ExecContext(ctx, "DELETE FROM "+def.table+" WHERE key = ?", key); err != nil {
		return errors.NewStorageWriteFailed(collection, err)
	}
	return nil
}

// Count returns the number of records in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	h, err := s.conn()
	if err != nil {
		return 0, err
	}
	def, err := lookup(collection)
	if err != nil {
		return 0, err
	}
	var n int
	if err := h.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+def.table).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// CountByIndex returns the number of records whose index column equals value.
func (s *Store) CountByIndex(ctx context.Context, collection, index string, value any) (int, error) {
	h, err := s.conn()
	if err != nil {
		return 0, err
	}
	def, col, err := indexColumn(collection, index)
	if err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", def.table, col)
	if err := h.QueryRowContext(ctx, query, value).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

func indexColumn(collection, index string) (collectionDef, string, error) {
	def, err := lookup(collection)
	if err != nil {
		return def, "", err
	}
	col, ok := def.indexes[index]
	if !ok {
		return def, "", errors.NewInvalidRequest(fmt.Sprintf("collection %q has no index %q", collection, index))
	}
	return def, col, nil
}

func putRecord(ctx context.Context, q querier, collection, key string, record any, indexes map[string]any) error {
	def, err := lookup(collection)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.NewInvalidRequest("key is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return errors.NewStorageWriteFailed(collection, err)
	}

	// Stable column order keeps the generated statement deterministic.
	names := make([]string, 0, len(def.indexes))
	for name := range def.indexes {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := []string{"key", "record"}
	args := []any{key, string(data)}
	updates := []string{"record = excluded.record"}
	for _, name := range names {
		v, ok := indexes[name]
		if !ok {
			return errors.NewInvalidRequest(fmt.Sprintf("missing value for index %q", name))
		}
		col := def.indexes[name]
		cols = append(cols, col)
		args = append(args, v)
		updates = append(updates, col+" = excluded."+col)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(key) DO UPDATE SET %s",
		def.table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		strings.Join(updates, ", "),
	)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return errors.NewStorageWriteFailed(collection, err)
	}
	return nil
}

func getRecord(ctx context.Context, q querier, collection, key string, dst any) (bool, error) {
	def, err := lookup(collection)
	if err != nil {
		return false, err
	}
	var raw string
	err = q.QueryRowContext(ctx, "SELECT record FROM "+def.table+" WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, errors.NewInternal(fmt.Errorf("decode %s/%s: %w", collection, key, err))
	}
	return true, nil
}

func queryRecords(ctx context.Context, q querier, query string, args ...any) ([]json.RawMessage, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// decodeAll unmarshals raw records into typed values.
func decodeAll[T any](raws []json.RawMessage) ([]*T, error) {
	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, v)
	}
	return out, nil
}

// inTx runs fn inside a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	h, err := s.conn()
	if err != nil {
		return err
	}
	tx, err := h.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageUnavailable(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageUnavailable(err)
	}
	return nil
}
