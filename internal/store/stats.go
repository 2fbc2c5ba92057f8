package store

import (
	"context"

	"github.com/hpungsan/roam/internal/model"
)

// Stats summarizes what the local store holds.
type Stats struct {
	Itineraries         int  `json:"itineraries"`
	PendingItineraries  int  `json:"pending_itineraries"`
	Messages            int  `json:"messages"`
	PendingMessages     int  `json:"pending_messages"`
	FailedMessages      int  `json:"failed_messages"`
	CacheEntries        int  `json:"cache_entries"`
	// ExpiredCacheEntries is what the next SweepExpired would remove.
	ExpiredCacheEntries int  `json:"expired_cache_entries"`
	HasUserProfile      bool `json:"has_user_profile"`
}

// Stats counts records per collection.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var (
		st  Stats
		err error
	)
	if st.Itineraries, err = s.Count(ctx, Itineraries); err != nil {
		return nil, err
	}
	if st.PendingItineraries, err = s.CountByIndex(ctx, Itineraries, "status", string(model.ItinerarySyncPending)); err != nil {
		return nil, err
	}
	if st.Messages, err = s.Count(ctx, ChatMessages); err != nil {
		return nil, err
	}
	if st.PendingMessages, err = s.CountByIndex(ctx, ChatMessages, "status", string(model.MessagePending)); err != nil {
		return nil, err
	}
	if st.FailedMessages, err = s.CountByIndex(ctx, ChatMessages, "status", string(model.MessageFailed)); err != nil {
		return nil, err
	}
	if st.CacheEntries, err = s.Count(ctx, APICache); err != nil {
		return nil, err
	}
	expired, err := s.QueryByIndexUpTo(ctx, APICache, "expires_at", s.nowMillis())
	if err != nil {
		return nil, err
	}
	st.ExpiredCacheEntries = len(expired)
	profiles, err := s.Count(ctx, UserProfile)
	if err != nil {
		return nil, err
	}
	st.HasUserProfile = profiles > 0
	return &st, nil
}
