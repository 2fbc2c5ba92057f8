package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/roam/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"itinerary_save": {
		def:     itinerarySaveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleItinerarySave },
	},
	"itinerary_list": {
		def:     itineraryListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleItineraryList },
	},
	"message_queue": {
		def:     messageQueueToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMessageQueue },
	},
	"message_list": {
		def:     messageListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMessageList },
	},
	"sync_run": {
		def:     syncRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncRun },
	},
	"sync_status": {
		def:     syncStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncStatus },
	},
	"cache_get": {
		def:     cacheGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheGet },
	},
	"cache_put": {
		def:     cachePutToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCachePut },
	},
	"cache_sweep": {
		def:     cacheSweepToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCacheSweep },
	},
	"backup_export": {
		def:     backupExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackupExport },
	},
	"backup_import": {
		def:     backupImportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBackupImport },
	},
	"storage_stats": {
		def:     storageStatsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStorageStats },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns the names that match no registered tool.
func ValidateDisabledTools(names []string) []string {
	var unknown []string
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates an MCP server with the roam tools registered. Tools
// listed in cfg.DisabledTools are left out.
func NewServer(h *Handlers, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"roam",
		version,
		server.WithToolCapabilities(true),
	)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}
	// Sorted so tools/list is stable across runs.
	for _, name := range AllToolNames() {
		if !disabled[name] {
			entry := toolRegistry[name]
			s.AddTool(entry.def, entry.handler(h))
		}
	}
	return s
}

// Run serves the tools over stdio until stdin closes.
func Run(h *Handlers, cfg *config.Config, version string) error {
	return server.ServeStdio(NewServer(h, cfg, version))
}
