// Package remote talks to the server-side sync endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
	"github.com/hpungsan/roam/internal/session"
)

// DefaultTimeout bounds a single sync request.
const DefaultTimeout = 15 * time.Second

// idempotencyNamespace scopes the UUIDv5 keys attached to sync requests.
var idempotencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://roam.local/sync"))

// Client posts local records to the remote endpoints.
type Client struct {
	baseURL       string
	itineraryPath string
	messagePath   string
	httpClient    *http.Client
	sessions      session.Store
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New builds a client for the endpoints in cfg. sessions may be nil, in
// which case requests carry no Authorization header.
func New(cfg *config.Config, sessions session.Store, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(cfg.ResolvedAPIBaseURL(), "/"),
		itineraryPath: cfg.ItinerarySyncPath,
		messagePath:   cfg.MessageSendPath,
		httpClient:    &http.Client{Timeout: DefaultTimeout},
		sessions:      sessions,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SyncItinerary pushes one itinerary. The idempotency key is derived from
// the id and revision, so a retried request for the same edit is
// recognisable server-side.
func (c *Client) SyncItinerary(ctx context.Context, it *model.Itinerary) error {
	key := IdempotencyKey("itinerary", it.ID, it.Revision)
	return c.post(ctx, c.itineraryPath, "itinerary", it.ID, key, it)
}

// SendMessage delivers one chat message.
func (c *Client) SendMessage(ctx context.Context, m *model.ChatMessage) error {
	key := IdempotencyKey("message", m.ID, int64(m.RetryCount))
	return c.post(ctx, c.messagePath, "message", m.ID, key, m)
}

// IdempotencyKey returns the deterministic request key for (kind, id, attempt).
func IdempotencyKey(kind, id string, attempt int64) string {
	name := kind + ":" + id + ":" + strconv.FormatInt(attempt, 10)
	return uuid.NewSHA1(idempotencyNamespace, []byte(name)).String()
}

func (c *Client) post(ctx context.Context, path, kind, id, idemKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("marshal %s %s: %w", kind, id, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.NewInternal(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idemKey)

	if c.sessions != nil {
		token, ok, err := c.sessions.Get(ctx, session.TokenKey)
		if err != nil {
			return errors.NewInternal(fmt.Errorf("read session token: %w", err))
		}
		if ok && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewNetworkUnavailable(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewSyncItemFailed(kind, id, resp.StatusCode)
	}
	return nil
}
