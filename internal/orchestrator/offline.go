package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
	"github.com/hpungsan/roam/internal/store"
)

// ItineraryInput is what a caller supplies to save an itinerary. An empty
// ID creates a new itinerary.
type ItineraryInput struct {
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination"`
	StartDate   string          `json:"start_date,omitempty"`
	EndDate     string          `json:"end_date,omitempty"`
	Budget      float64         `json:"budget,omitempty"`
	Preferences []string        `json:"preferences,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	// Draft keeps the itinerary local; drafts are never synced.
	Draft bool `json:"draft,omitempty"`
}

// MessageInput is what a caller supplies to queue a chat message.
type MessageInput struct {
	RoomID   string            `json:"room_id"`
	SenderID string            `json:"sender_id,omitempty"`
	Content  string            `json:"content"`
	Kind     model.MessageKind `json:"kind,omitempty"`
}

// StorageStats is the store summary plus the last successful sync.
type StorageStats struct {
	store.Stats
	LastSyncTime int64 `json:"last_sync_time,omitempty"`
}

func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}

// SaveItineraryOffline persists an itinerary for later sync.
func (o *Orchestrator) SaveItineraryOffline(ctx context.Context, in ItineraryInput) (*model.Itinerary, error) {
	if in.Destination == "" {
		return nil, errors.NewInvalidRequest("destination is required")
	}
	if len(in.Payload) > 0 && !json.Valid(in.Payload) {
		return nil, errors.NewInvalidRequest("payload must be valid JSON")
	}

	isNew := in.ID == ""
	if isNew {
		in.ID = newID()
	}
	status := model.ItinerarySyncPending
	if in.Draft {
		status = model.ItineraryDraft
	}

	it := &model.Itinerary{
		ID:          in.ID,
		Destination: in.Destination,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Budget:      in.Budget,
		Preferences: in.Preferences,
		Payload:     in.Payload,
		Status:      status,
	}
	if err := o.store.PutItinerary(ctx, it); err != nil {
		return nil, err
	}

	if it.Revision == 1 && it.Status == model.ItinerarySyncPending {
		o.mu.Lock()
		o.state.PendingItineraryCount++
		o.mu.Unlock()
		o.emit()
	} else {
		o.RefreshPendingCounts(ctx)
	}
	o.logger.Debug("itinerary saved offline", "id", it.ID, "status", it.Status, "revision", it.Revision)
	return it, nil
}

// SaveChatMessageOffline queues a chat message for delivery.
func (o *Orchestrator) SaveChatMessageOffline(ctx context.Context, in MessageInput) (*model.ChatMessage, error) {
	if in.Content == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	m := &model.ChatMessage{
		ID:       newID(),
		RoomID:   in.RoomID,
		SenderID: in.SenderID,
		Content:  in.Content,
		Kind:     in.Kind,
		Status:   model.MessagePending,
	}
	if err := o.store.PutMessage(ctx, m); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.state.PendingMessageCount++
	o.mu.Unlock()
	o.emit()
	o.logger.Debug("message queued", "id", m.ID, "room_id", m.RoomID, "kind", m.Kind)
	return m, nil
}

// GetCachedResponse returns the live cached body for url, or nil. Store
// failures read as a miss.
func (o *Orchestrator) GetCachedResponse(ctx context.Context, url string) json.RawMessage {
	e, err := o.store.GetCacheEntry(ctx, url)
	if err != nil {
		o.logger.Warn("cache read failed", "url", url, "error", err)
		return nil
	}
	if e == nil {
		return nil
	}
	return e.Data
}

// CacheResponse stores data for url for ttlMinutes minutes.
func (o *Orchestrator) CacheResponse(ctx context.Context, url string, data json.RawMessage, ttlMinutes int) error {
	if ttlMinutes <= 0 {
		return errors.NewInvalidRequest("ttl_minutes must be positive")
	}
	_, err := o.store.PutCacheEntry(ctx, url, data, time.Duration(ttlMinutes)*time.Minute)
	return err
}

// ClearExpiredCache removes expired API cache entries and returns how many
// went. Store failures are logged and count as zero.
func (o *Orchestrator) ClearExpiredCache(ctx context.Context) int {
	n, err := o.store.SweepExpired(ctx)
	if err != nil {
		o.logger.Warn("cache sweep failed", "removed", n, "error", err)
	}
	return n
}

// GetStorageStats summarizes the store. On failure every count is zero.
func (o *Orchestrator) GetStorageStats(ctx context.Context) StorageStats {
	st, err := o.store.Stats(ctx)
	if err != nil {
		o.logger.Warn("storage stats failed", "error", err)
		return StorageStats{}
	}
	return StorageStats{Stats: *st, LastSyncTime: o.State().LastSyncTime}
}
