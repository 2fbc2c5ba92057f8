package model

import "encoding/json"

// CurrentUserKey is the fixed key of the single cached user profile.
const CurrentUserKey = "current_user"

// SettingLastSyncTime stores the unix-millisecond time of the last completed sync.
const SettingLastSyncTime = "last_sync_time"

// UserProfile mirrors the authenticated user's preferences. It is replaced
// wholesale on each save.
type UserProfile struct {
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name,omitempty"`
	Email       string         `json:"email,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	FetchedAt   int64          `json:"fetched_at"`
}

// CacheEntry is an application-level cached API response keyed by URL.
type CacheEntry struct {
	URL       string          `json:"url"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
	ExpiresAt int64           `json:"expires_at"`
}

// Live reports whether the entry is still readable at now (unix ms).
func (e *CacheEntry) Live(now int64) bool {
	return now < e.ExpiresAt
}

// Setting is a last-write-wins key/value pair.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updated_at"`
}
