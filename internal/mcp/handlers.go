package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/roam/internal/backup"
	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/connectivity"
	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/model"
	"github.com/hpungsan/roam/internal/orchestrator"
	"github.com/hpungsan/roam/internal/store"
)

const defaultCacheTTLMinutes = 60

// Prober reports current connectivity.
type Prober interface {
	Probe(ctx context.Context) connectivity.Status
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	orch   *orchestrator.Orchestrator
	store  *store.Store
	cfg    *config.Config
	prober Prober
}

// NewHandlers creates a new Handlers instance. prober may be nil, in which
// case sync_run trusts the connectivity the orchestrator already has.
func NewHandlers(orch *orchestrator.Orchestrator, st *store.Store, cfg *config.Config, prober Prober) *Handlers {
	return &Handlers{orch: orch, store: st, cfg: cfg, prober: prober}
}

// ItineraryListRequest represents the arguments for itinerary_list.
type ItineraryListRequest struct {
	Status string `json:"status,omitempty"`
}

// MessageListRequest represents the arguments for message_list.
type MessageListRequest struct {
	Status string `json:"status,omitempty"`
	RoomID string `json:"room_id,omitempty"`
}

// CacheGetRequest represents the arguments for cache_get.
type CacheGetRequest struct {
	URL string `json:"url"`
}

// CachePutRequest represents the arguments for cache_put.
type CachePutRequest struct {
	URL        string          `json:"url"`
	Data       json.RawMessage `json:"data"`
	TTLMinutes int             `json:"ttl_minutes,omitempty"`
}

// BackupExportRequest represents the arguments for backup_export.
type BackupExportRequest struct {
	Path        string   `json:"path,omitempty"`
	Collections []string `json:"collections,omitempty"`
}

// BackupImportRequest represents the arguments for backup_import.
type BackupImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// CacheGetResult is returned by cache_get.
type CacheGetResult struct {
	URL  string          `json:"url"`
	Hit  bool            `json:"hit"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HandleItinerarySave handles the itinerary_save tool call.
func (h *Handlers) HandleItinerarySave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[orchestrator.ItineraryInput](req)
	if err != nil {
		return errorResult(err), nil
	}

	it, err := h.orch.SaveItineraryOffline(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(it)
}

// HandleItineraryList handles the itinerary_list tool call.
func (h *Handlers) HandleItineraryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ItineraryListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	var items []*model.Itinerary
	if input.Status == "" {
		items, err = h.store.ListItineraries(ctx)
	} else {
		status := model.ItineraryStatus(input.Status)
		if !status.Valid() {
			return errorResult(errors.NewInvalidRequest("invalid status: " + input.Status)), nil
		}
		items, err = h.store.ItinerariesByStatus(ctx, status)
	}
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": nonNil(items)})
}

// HandleMessageQueue handles the message_queue tool call.
func (h *Handlers) HandleMessageQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[orchestrator.MessageInput](req)
	if err != nil {
		return errorResult(err), nil
	}

	m, err := h.orch.SaveChatMessageOffline(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(m)
}

// HandleMessageList handles the message_list tool call.
func (h *Handlers) HandleMessageList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MessageListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	var items []*model.ChatMessage
	switch {
	case input.RoomID != "":
		items, err = h.store.MessagesByRoom(ctx, input.RoomID)
	case input.Status != "":
		items, err = h.store.MessagesByStatus(ctx, model.MessageStatus(input.Status))
	default:
		items, err = h.store.ListMessages(ctx)
	}
	if err != nil {
		return errorResult(err), nil
	}

	// Room and status together: the room index narrows, status filters.
	if input.RoomID != "" && input.Status != "" {
		filtered := items[:0]
		for _, m := range items {
			if string(m.Status) == input.Status {
				filtered = append(filtered, m)
			}
		}
		items = filtered
	}
	return successResult(map[string]any{"items": nonNil(items)})
}

// HandleSyncRun handles the sync_run tool call.
func (h *Handlers) HandleSyncRun(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.prober != nil {
		st := h.prober.Probe(ctx)
		h.orch.SetConnectivity(st.Online, string(st.Quality))
	}

	res, err := h.orch.SyncPendingData(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{
		"result": res,
		"state":  h.orch.State(),
	})
}

// HandleSyncStatus handles the sync_status tool call.
func (h *Handlers) HandleSyncStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.orch.RefreshPendingCounts(ctx)
	return successResult(h.orch.State())
}

// HandleCacheGet handles the cache_get tool call.
func (h *Handlers) HandleCacheGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CacheGetRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.URL == "" {
		return errorResult(errors.NewInvalidRequest("url is required")), nil
	}

	data := h.orch.GetCachedResponse(ctx, input.URL)
	return successResult(CacheGetResult{URL: input.URL, Hit: data != nil, Data: data})
}

// HandleCachePut handles the cache_put tool call.
func (h *Handlers) HandleCachePut(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CachePutRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	ttl := input.TTLMinutes
	if ttl == 0 {
		ttl = defaultCacheTTLMinutes
	}

	if err := h.orch.CacheResponse(ctx, input.URL, input.Data, ttl); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"url": input.URL, "ttl_minutes": ttl})
}

// HandleCacheSweep handles the cache_sweep tool call.
func (h *Handlers) HandleCacheSweep(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(map[string]any{"removed": h.orch.ClearExpiredCache(ctx)})
}

// HandleStorageStats handles the storage_stats tool call.
func (h *Handlers) HandleStorageStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.orch.GetStorageStats(ctx))
}

// HandleBackupExport handles the backup_export tool call.
func (h *Handlers) HandleBackupExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BackupExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	out, err := backup.Export(ctx, h.store, h.cfg, backup.ExportInput{
		Path:        input.Path,
		Collections: input.Collections,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleBackupImport handles the backup_import tool call.
func (h *Handlers) HandleBackupImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BackupImportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	out, err := backup.Import(ctx, h.store, h.cfg, backup.ImportInput{
		Path: input.Path,
		Mode: backup.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}
	// Imported records may change what is pending.
	h.orch.RefreshPendingCounts(ctx)
	if out.Errors == nil {
		out.Errors = []backup.ImportError{}
	}
	return successResult(out)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if rErr, ok := errors.As(err); ok {
		message := rErr.Message
		if err != error(rErr) {
			// Keep the context added by wrappers.
			message = strings.Replace(err.Error(), rErr.Error(), rErr.Message, 1)
		}
		errorObj := map[string]any{
			"code":    rErr.Code,
			"message": message,
			"status":  rErr.Status,
		}
		if rErr.Code != errors.ErrInternal && rErr.Details != nil {
			errorObj["details"] = rErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
