package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
)

// Record is one stored row, as written to and read from backups.
type Record struct {
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"record"`
}

// Records returns every row of the collection in key order.
func (s *Store) Records(ctx context.Context, collection string) ([]Record, error) {
	h, err := s.conn()
	if err != nil {
		return nil, err
	}
	def, err := lookup(collection)
	if err != nil {
		return nil, err
	}

	rows, err := h.QueryContext(ctx, "SELECT key, record FROM "+def.table+" ORDER BY key")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, Record{Collection: collection, Key: key, Data: json.RawMessage(raw)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// Exists reports whether a row is stored under key.
func (s *Store) Exists(ctx context.Context, collection, key string) (bool, error) {
	h, err := s.conn()
	if err != nil {
		return false, err
	}
	return exists(ctx, h, collection, key)
}

// Restore writes records exactly as given, bypassing the mutation rules of
// PutItinerary and PutMessage so revisions and statuses survive a round
// trip. When overwrite is false, a record whose key is already present
// aborts the whole batch and nothing is written.
func (s *Store) Restore(ctx context.Context, recs []Record, overwrite bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range recs {
			if !overwrite {
				found, err := exists(ctx, tx, rec.Collection, rec.Key)
				if err != nil {
					return err
				}
				if found {
					return errors.NewInvalidState(fmt.Sprintf("%s/%s already exists", rec.Collection, rec.Key))
				}
			}
			idx, err := restoreIndexes(rec)
			if err != nil {
				return err
			}
			if err := putRecord(ctx, tx, rec.Collection, rec.Key, rec.Data, idx); err != nil {
				return err
			}
		}
		return nil
	})
}

func exists(ctx context.Context, q querier, collection, key string) (bool, error) {
	def, err := lookup(collection)
	if err != nil {
		return false, err
	}
	var one int
	err = q.QueryRowContext(ctx, "SELECT 1 FROM "+def.table+" WHERE key = ?", key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// restoreIndexes derives the secondary index values of a raw record.
func restoreIndexes(rec Record) (map[string]any, error) {
	if !json.Valid(rec.Data) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("%s/%s: record is not valid JSON", rec.Collection, rec.Key))
	}

	switch rec.Collection {
	case Itineraries:
		var it model.Itinerary
		if err := json.Unmarshal(rec.Data, &it); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("%s/%s: %v", rec.Collection, rec.Key, err))
		}
		if !it.Status.Valid() {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("%s/%s: invalid status %q", rec.Collection, rec.Key, it.Status))
		}
		return itineraryIndexes(&it), nil
	case ChatMessages:
		var m model.ChatMessage
		if err := json.Unmarshal(rec.Data, &m); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("%s/%s: %v", rec.Collection, rec.Key, err))
		}
		if m.RoomID == "" {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("%s/%s: room_id is required", rec.Collection, rec.Key))
		}
		return messageIndexes(&m), nil
	case APICache:
		var e model.CacheEntry
		if err := json.Unmarshal(rec.Data, &e); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("%s/%s: %v", rec.Collection, rec.Key, err))
		}
		return map[string]any{"expires_at": e.ExpiresAt, "created_at": e.CreatedAt}, nil
	case UserProfile, Settings:
		return nil, nil
	default:
		_, err := lookup(rec.Collection)
		return nil, err
	}
}

// ValidateRecord reports whether rec could be restored.
func ValidateRecord(rec Record) error {
	if rec.Key == "" {
		return errors.NewInvalidRequest("key is required")
	}
	_, err := restoreIndexes(rec)
	return err
}
