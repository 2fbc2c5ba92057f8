package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
)

func itineraryIndexes(it *model.Itinerary) map[string]any {
	return map[string]any{
		"status":     string(it.Status),
		"revision":   it.Revision,
		"updated_at": it.UpdatedAt,
	}
}

// PutItinerary writes it as a local mutation. The read of the existing
// record and the write happen in one transaction, so a concurrent sync
// cannot observe the record between them.
//
// Writing status "synced" over an existing record stores "sync_pending"
// instead; only MarkItinerarySynced moves an existing record to synced.
// Revision is bumped and UpdatedAt refreshed; CreatedAt is preserved.
// it is updated in place to reflect what was stored.
func (s *Store) PutItinerary(ctx context.Context, it *model.Itinerary) error {
	if it == nil || it.ID == "" {
		return errors.NewInvalidRequest("itinerary id is required")
	}
	if it.Status != "" && !it.Status.Valid() {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid itinerary status %q", it.Status))
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var existing model.Itinerary
		found, err := getRecord(ctx, tx, Itineraries, it.ID, &existing)
		if err != nil {
			return err
		}

		now := s.nowMillis()
		var prev *model.Itinerary
		if found {
			prev = &existing
			it.CreatedAt = existing.CreatedAt
			it.Revision = existing.Revision + 1
		} else {
			if it.CreatedAt == 0 {
				it.CreatedAt = now
			}
			it.Revision = 1
		}
		it.Status = model.StatusForPut(it.Status, prev)
		it.UpdatedAt = now

		return putRecord(ctx, tx, Itineraries, it.ID, it, itineraryIndexes(it))
	})
}

// GetItinerary returns the itinerary with id, or nil when absent.
func (s *Store) GetItinerary(ctx context.Context, id string) (*model.Itinerary, error) {
	var it model.Itinerary
	found, err := s.Get(ctx, Itineraries, id, &it)
	if err != nil || !found {
		return nil, err
	}
	return &it, nil
}

// ListItineraries returns every itinerary, oldest id first.
func (s *Store) ListItineraries(ctx context.Context) ([]*model.Itinerary, error) {
	raws, err := s.GetAll(ctx, Itineraries)
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Itinerary](raws)
}

// ItinerariesByStatus returns the itineraries in status.
func (s *Store) ItinerariesByStatus(ctx context.Context, status model.ItineraryStatus) ([]*model.Itinerary, error) {
	raws, err := s.QueryByIndex(ctx, Itineraries, "status", string(status))
	if err != nil {
		return nil, err
	}
	return decodeAll[model.Itinerary](raws)
}

// MarkItinerarySynced records a confirmed server round trip for the given
// revision. If the record changed since that revision was read, or was
// deleted, nothing is written and false is returned.
func (s *Store) MarkItinerarySynced(ctx context.Context, id string, revision int64) (bool, error) {
	marked := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var it model.Itinerary
		found, err := getRecord(ctx, tx, Itineraries, id, &it)
		if err != nil || !found {
			return err
		}
		if it.Revision != revision {
			return nil
		}
		it.Status = model.ItinerarySynced
		if err := putRecord(ctx, tx, Itineraries, id, &it, itineraryIndexes(&it)); err != nil {
			return err
		}
		marked = true
		return nil
	})
	return marked, err
}

// DeleteItinerary removes the itinerary with id.
func (s *Store) DeleteItinerary(ctx context.Context, id string) error {
	return s.Delete(ctx, Itineraries, id)
}
