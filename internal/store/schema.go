package store

import (
	"github.com/hpungsan/roam/internal/db"
)

// SchemaVersion is the latest schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Collection names.
const (
	Itineraries  = "itineraries"
	ChatMessages = "chat_messages"
	UserProfile  = "user_profile"
	APICache     = "api_cache"
	Settings     = "settings"
)

// collectionDef maps a collection to its table and its secondary indexes
// (index name -> column).
type collectionDef struct {
	table   string
	indexes map[string]string
}

var collections = map[string]collectionDef{
	Itineraries: {
		table:   "itineraries",
		indexes: map[string]string{"status": "status", "revision": "revision", "updated_at": "updated_at"},
	},
	ChatMessages: {
		table:   "chat_messages",
		indexes: map[string]string{"status": "status", "room_id": "room_id", "created_at": "created_at"},
	},
	UserProfile: {
		table:   "user_profile",
		indexes: map[string]string{},
	},
	APICache: {
		table:   "api_cache",
		indexes: map[string]string{"expires_at": "expires_at", "created_at": "created_at"},
	},
	Settings: {
		table:   "settings",
		indexes: map[string]string{},
	},
}

var migrations = []db.Migration{
	{
		// Migration 0 -> 1: initial collections
		Version: 1,
		SQL: `
		CREATE TABLE IF NOT EXISTS itineraries (
		  key        TEXT PRIMARY KEY,
		  record     TEXT NOT NULL,
		  status     TEXT NOT NULL,
		  revision   INTEGER NOT NULL DEFAULT 0,
		  updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_itineraries_status ON itineraries(status);
		CREATE INDEX IF NOT EXISTS idx_itineraries_updated_at ON itineraries(updated_at);

		CREATE TABLE IF NOT EXISTS chat_messages (
		  key        TEXT PRIMARY KEY,
		  record     TEXT NOT NULL,
		  status     TEXT NOT NULL,
		  room_id    TEXT NOT NULL,
		  created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_status ON chat_messages(status);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_room_id ON chat_messages(room_id);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_created_at ON chat_messages(created_at);

		CREATE TABLE IF NOT EXISTS user_profile (
		  key    TEXT PRIMARY KEY,
		  record TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS api_cache (
		  key        TEXT PRIMARY KEY,
		  record     TEXT NOT NULL,
		  expires_at INTEGER NOT NULL,
		  created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_api_cache_expires_at ON api_cache(expires_at, key);
		CREATE INDEX IF NOT EXISTS idx_api_cache_created_at ON api_cache(created_at);

		CREATE TABLE IF NOT EXISTS settings (
		  key    TEXT PRIMARY KEY,
		  record TEXT NOT NULL
		);
		`,
	},

	// Future migrations go here:
	// {Version: 2, SQL: ...},
}
