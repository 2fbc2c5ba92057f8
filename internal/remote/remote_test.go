package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
	"github.com/hpungsan/roam/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, sessions session.Store) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.UpstreamURL = srv.URL
	return New(cfg, sessions)
}

func TestSyncItinerarySuccess(t *testing.T) {
	sessions := session.NewMemoryStore()
	require.NoError(t, sessions.Put(context.Background(), session.TokenKey, "tok", 0))

	var gotPath, gotAuth, gotKey string
	var gotBody model.Itinerary
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}, sessions)

	it := &model.Itinerary{ID: "it1", Destination: "Oslo", Revision: 3}
	require.NoError(t, c.SyncItinerary(context.Background(), it))

	require.Equal(t, "/api/itinerary/sync", gotPath)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, IdempotencyKey("itinerary", "it1", 3), gotKey)
	require.Equal(t, "Oslo", gotBody.Destination)
}

func TestSendMessageNon2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusConflict)
	}, nil)

	err := c.SendMessage(context.Background(), &model.ChatMessage{ID: "m1", RoomID: "r"})
	require.True(t, errors.Is(err, errors.ErrSyncItemFailed), "got %v", err)

	re, ok := errors.As(err)
	require.True(t, ok)
	require.Equal(t, http.StatusConflict, re.Details["remote_status"])
}

func TestTransportFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.UpstreamURL = "http://127.0.0.1:1"
	c := New(cfg, nil)

	err := c.SyncItinerary(context.Background(), &model.Itinerary{ID: "it1"})
	require.True(t, errors.Is(err, errors.ErrNetworkUnavailable), "got %v", err)
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	require.Equal(t, IdempotencyKey("message", "m1", 0), IdempotencyKey("message", "m1", 0))
	require.NotEqual(t, IdempotencyKey("message", "m1", 0), IdempotencyKey("message", "m1", 1))
	require.NotEqual(t, IdempotencyKey("message", "x", 0), IdempotencyKey("itinerary", "x", 0))
}
