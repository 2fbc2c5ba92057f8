package mcp

import "github.com/mark3labs/mcp-go/mcp"

var itinerarySaveToolDef = mcp.NewTool("itinerary_save",
	mcp.WithDescription("Save an itinerary to the local store. It is queued for sync unless saved as a draft. Pass id to update an existing itinerary."),
	mcp.WithString("id", mcp.Description("Existing itinerary id; omit to create a new one")),
	mcp.WithString("destination", mcp.Required(), mcp.Description("Trip destination")),
	mcp.WithString("start_date", mcp.Description("Start date, YYYY-MM-DD")),
	mcp.WithString("end_date", mcp.Description("End date, YYYY-MM-DD")),
	mcp.WithNumber("budget", mcp.Description("Trip budget")),
	mcp.WithArray("preferences", mcp.Description("Free-form preference tags"), mcp.WithStringItems()),
	mcp.WithObject("payload", mcp.Description("Structured plan body")),
	mcp.WithBoolean("draft", mcp.Description("Keep local only; drafts never sync")),
)

var itineraryListToolDef = mcp.NewTool("itinerary_list",
	mcp.WithDescription("List itineraries in the local store, optionally filtered by status."),
	mcp.WithString("status", mcp.Description("draft, sync_pending or synced"), mcp.Enum("draft", "sync_pending", "synced")),
)

var messageQueueToolDef = mcp.NewTool("message_queue",
	mcp.WithDescription("Queue a chat message for delivery on the next sync."),
	mcp.WithString("room_id", mcp.Required(), mcp.Description("Chat room id")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	mcp.WithString("sender_id", mcp.Description("Sender id")),
	mcp.WithString("kind", mcp.Description("Message kind"), mcp.Enum("text", "location", "emergency")),
)

var messageListToolDef = mcp.NewTool("message_list",
	mcp.WithDescription("List queued chat messages, optionally filtered by status or room."),
	mcp.WithString("status", mcp.Description("pending, sent or failed"), mcp.Enum("pending", "sent", "failed")),
	mcp.WithString("room_id", mcp.Description("Only messages for this room")),
)

var syncRunToolDef = mcp.NewTool("sync_run",
	mcp.WithDescription("Probe connectivity and push pending itineraries and messages to the server."),
)

var syncStatusToolDef = mcp.NewTool("sync_status",
	mcp.WithDescription("Report connectivity, pending counts, last sync time and errors from the last sync."),
)

var cacheGetToolDef = mcp.NewTool("cache_get",
	mcp.WithDescription("Read a live API cache entry."),
	mcp.WithString("url", mcp.Required(), mcp.Description("Cache key, usually the request URL")),
)

var cachePutToolDef = mcp.NewTool("cache_put",
	mcp.WithDescription("Store a JSON response in the API cache."),
	mcp.WithString("url", mcp.Required(), mcp.Description("Cache key, usually the request URL")),
	mcp.WithObject("data", mcp.Required(), mcp.Description("JSON body to cache")),
	mcp.WithNumber("ttl_minutes", mcp.Description("Time to live in minutes (default 60)")),
)

var cacheSweepToolDef = mcp.NewTool("cache_sweep",
	mcp.WithDescription("Delete expired API cache entries."),
)

var storageStatsToolDef = mcp.NewTool("storage_stats",
	mcp.WithDescription("Count records in the local store."),
)

var backupExportToolDef = mcp.NewTool("backup_export",
	mcp.WithDescription("Write itineraries, chat messages, the user profile and settings to a JSONL backup."),
	mcp.WithString("path", mcp.Description("Output file (.jsonl). Defaults to ~/.roam/exports/roam-<timestamp>.jsonl")),
	mcp.WithArray("collections", mcp.WithStringItems(),
		mcp.Description("Collections to include: itineraries, chat_messages, user_profile, settings, api_cache")),
)

var backupImportToolDef = mcp.NewTool("backup_import",
	mcp.WithDescription("Restore records from a JSONL backup."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Backup file (.jsonl)")),
	mcp.WithString("mode", mcp.Enum("error", "replace", "skip"),
		mcp.Description("On key collision: error (import nothing, default), replace, or skip")),
)
