package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/roam/internal/backup"
	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/connectivity"
	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/logging"
	"github.com/hpungsan/roam/internal/model"
	"github.com/hpungsan/roam/internal/orchestrator"
	"github.com/hpungsan/roam/internal/store"
)

type stubRemote struct {
	fail bool
}

func (r *stubRemote) SyncItinerary(context.Context, *model.Itinerary) error {
	if r.fail {
		return errors.NewSyncItemFailed("itinerary", "x", 500)
	}
	return nil
}

func (r *stubRemote) SendMessage(context.Context, *model.ChatMessage) error {
	if r.fail {
		return errors.NewSyncItemFailed("message", "x", 500)
	}
	return nil
}

type stubProber struct {
	status connectivity.Status
}

func (p stubProber) Probe(context.Context) connectivity.Status { return p.status }

// testSetup creates a temporary store and handlers for testing.
func testSetup(t *testing.T, prober Prober) (*Handlers, *config.Config) {
	t.Helper()

	st := store.New(t.TempDir(), store.WithLogger(logging.Discard()))
	if err := st.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	opts := orchestrator.OptionsFromConfig(cfg)
	opts.DisableAutoSync = true
	opts.SyncRatePerSecond = 0
	orch := orchestrator.New(st, &stubRemote{}, opts, logging.Discard())

	cfg.AllowedPaths = []string{t.TempDir()}
	return NewHandlers(orch, st, cfg, prober), cfg
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("result has no content")
	}
	text, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is %T, want TextContent", r.Content[0])
	}
	return text.Text
}

func parseResult[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	var v T
	if r.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, r))
	}
	if err := json.Unmarshal([]byte(resultText(t, r)), &v); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	return v
}

func errorCodeOf(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if !r.IsError {
		t.Fatalf("expected error result, got %s", resultText(t, r))
	}
	var payload map[string]map[string]any
	if err := json.Unmarshal([]byte(resultText(t, r)), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	code, _ := payload["error"]["code"].(string)
	return code
}

func TestHandleItinerarySave(t *testing.T) {
	h, _ := testSetup(t, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		args       map[string]any
		wantError  bool
		errorCode  string
		wantStatus model.ItineraryStatus
	}{
		{
			name: "new itinerary",
			args: map[string]any{
				"destination": "Lisbon",
				"start_date":  "2026-05-01",
				"budget":      900,
				"preferences": []any{"food", "museums"},
				"payload":     map[string]any{"days": 3},
			},
			wantStatus: model.ItinerarySyncPending,
		},
		{
			name:       "draft",
			args:       map[string]any{"destination": "Porto", "draft": true},
			wantStatus: model.ItineraryDraft,
		},
		{
			name:      "missing destination",
			args:      map[string]any{"budget": 10},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "wrong type",
			args:      map[string]any{"destination": 42},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleItinerarySave(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if tt.wantError {
				if code := errorCodeOf(t, result); code != tt.errorCode {
					t.Errorf("code = %s, want %s", code, tt.errorCode)
				}
				return
			}
			it := parseResult[model.Itinerary](t, result)
			if it.ID == "" {
				t.Error("expected generated id")
			}
			if it.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", it.Status, tt.wantStatus)
			}
		})
	}
}

func TestHandleItineraryList(t *testing.T) {
	h, _ := testSetup(t, nil)
	ctx := context.Background()

	for _, args := range []map[string]any{
		{"destination": "A"},
		{"destination": "B"},
		{"destination": "C", "draft": true},
	} {
		if r, _ := h.HandleItinerarySave(ctx, makeRequest(args)); r.IsError {
			t.Fatalf("setup save failed: %s", resultText(t, r))
		}
	}

	tests := []struct {
		name      string
		args      map[string]any
		wantCount int
		wantError bool
	}{
		{name: "all", args: map[string]any{}, wantCount: 3},
		{name: "pending", args: map[string]any{"status": "sync_pending"}, wantCount: 2},
		{name: "drafts", args: map[string]any{"status": "draft"}, wantCount: 1},
		{name: "synced", args: map[string]any{"status": "synced"}, wantCount: 0},
		{name: "bad status", args: map[string]any{"status": "lost"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleItineraryList(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if tt.wantError {
				if code := errorCodeOf(t, result); code != "INVALID_REQUEST" {
					t.Errorf("code = %s, want INVALID_REQUEST", code)
				}
				return
			}
			out := parseResult[struct {
				Items []model.Itinerary `json:"items"`
			}](t, result)
			if len(out.Items) != tt.wantCount {
				t.Errorf("count = %d, want %d", len(out.Items), tt.wantCount)
			}
		})
	}
}

func TestHandleMessageQueueAndList(t *testing.T) {
	h, _ := testSetup(t, nil)
	ctx := context.Background()

	for _, args := range []map[string]any{
		{"room_id": "r1", "content": "hi"},
		{"room_id": "r1", "content": "here", "kind": "location"},
		{"room_id": "r2", "content": "help", "kind": "emergency"},
	} {
		result, err := h.HandleMessageQueue(ctx, makeRequest(args))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		m := parseResult[model.ChatMessage](t, result)
		if m.Status != model.MessagePending {
			t.Errorf("status = %s, want pending", m.Status)
		}
	}

	result, _ := h.HandleMessageQueue(ctx, makeRequest(map[string]any{"room_id": "r1", "content": "x", "kind": "video"}))
	if code := errorCodeOf(t, result); code != "INVALID_REQUEST" {
		t.Errorf("code = %s, want INVALID_REQUEST", code)
	}

	tests := []struct {
		name      string
		args      map[string]any
		wantCount int
	}{
		{name: "all", args: map[string]any{}, wantCount: 3},
		{name: "room", args: map[string]any{"room_id": "r1"}, wantCount: 2},
		{name: "status", args: map[string]any{"status": "pending"}, wantCount: 3},
		{name: "room and status", args: map[string]any{"room_id": "r2", "status": "sent"}, wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleMessageList(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			out := parseResult[struct {
				Items []model.ChatMessage `json:"items"`
			}](t, result)
			if len(out.Items) != tt.wantCount {
				t.Errorf("count = %d, want %d", len(out.Items), tt.wantCount)
			}
		})
	}
}

func TestHandleSyncRun(t *testing.T) {
	t.Run("offline probe skips", func(t *testing.T) {
		h, _ := testSetup(t, stubProber{status: connectivity.Status{Online: false, Quality: connectivity.QualityOffline}})
		ctx := context.Background()
		h.HandleItinerarySave(ctx, makeRequest(map[string]any{"destination": "Doha"}))

		result, err := h.HandleSyncRun(ctx, makeRequest(nil))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		out := parseResult[struct {
			Result orchestrator.SyncResult `json:"result"`
		}](t, result)
		if !out.Result.Skipped || out.Result.SkipReason != orchestrator.SkipOffline {
			t.Errorf("result = %+v, want skipped offline", out.Result)
		}
	})

	t.Run("online probe syncs", func(t *testing.T) {
		h, _ := testSetup(t, stubProber{status: connectivity.Status{Online: true, Quality: connectivity.Quality4G}})
		ctx := context.Background()
		h.HandleItinerarySave(ctx, makeRequest(map[string]any{"destination": "Doha"}))
		h.HandleMessageQueue(ctx, makeRequest(map[string]any{"room_id": "r", "content": "hello"}))

		result, err := h.HandleSyncRun(ctx, makeRequest(nil))
		if err != nil {
			t.Fatalf("handler returned error: %v", err)
		}
		out := parseResult[struct {
			Result orchestrator.SyncResult `json:"result"`
			State  orchestrator.State      `json:"state"`
		}](t, result)
		if out.Result.ItinerariesSynced != 1 || out.Result.MessagesSent != 1 {
			t.Errorf("result = %+v", out.Result)
		}
		if out.State.PendingItineraryCount != 0 || out.State.PendingMessageCount != 0 {
			t.Errorf("state still has pending work: %+v", out.State)
		}
		if out.State.LastSyncTime == 0 {
			t.Error("expected last_sync_time to be set")
		}
	})
}

func TestHandleSyncStatus(t *testing.T) {
	h, _ := testSetup(t, nil)
	ctx := context.Background()
	h.HandleMessageQueue(ctx, makeRequest(map[string]any{"room_id": "r", "content": "hello"}))

	result, err := h.HandleSyncStatus(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	state := parseResult[orchestrator.State](t, result)
	if state.IsOnline {
		t.Error("expected offline before any probe")
	}
	if state.PendingMessageCount != 1 {
		t.Errorf("pending messages = %d, want 1", state.PendingMessageCount)
	}
}

func TestHandleCache(t *testing.T) {
	h, _ := testSetup(t, nil)
	ctx := context.Background()

	result, _ := h.HandleCacheGet(ctx, makeRequest(map[string]any{"url": "/api/weather"}))
	if got := parseResult[CacheGetResult](t, result); got.Hit {
		t.Error("expected miss on empty cache")
	}

	result, _ = h.HandleCachePut(ctx, makeRequest(map[string]any{
		"url":  "/api/weather",
		"data": map[string]any{"temp": 21},
	}))
	put := parseResult[map[string]any](t, result)
	if put["ttl_minutes"] != float64(defaultCacheTTLMinutes) {
		t.Errorf("ttl_minutes = %v, want default", put["ttl_minutes"])
	}

	result, _ = h.HandleCacheGet(ctx, makeRequest(map[string]any{"url": "/api/weather"}))
	got := parseResult[CacheGetResult](t, result)
	if !got.Hit || string(got.Data) != `{"temp":21}` {
		t.Errorf("got %+v, want hit with data", got)
	}

	result, _ = h.HandleCacheGet(ctx, makeRequest(map[string]any{}))
	if code := errorCodeOf(t, result); code != "INVALID_REQUEST" {
		t.Errorf("code = %s, want INVALID_REQUEST", code)
	}

	result, _ = h.HandleCachePut(ctx, makeRequest(map[string]any{"url": "/api/x", "data": map[string]any{}, "ttl_minutes": -1}))
	if code := errorCodeOf(t, result); code != "INVALID_REQUEST" {
		t.Errorf("code = %s, want INVALID_REQUEST", code)
	}

	result, _ = h.HandleCacheSweep(ctx, makeRequest(nil))
	sweep := parseResult[map[string]any](t, result)
	if sweep["removed"] != float64(0) {
		t.Errorf("removed = %v, want 0 (nothing expired)", sweep["removed"])
	}
}

func TestHandleStorageStats(t *testing.T) {
	h, _ := testSetup(t, nil)
	ctx := context.Background()
	h.HandleItinerarySave(ctx, makeRequest(map[string]any{"destination": "Cairo"}))

	result, err := h.HandleStorageStats(ctx, makeRequest(nil))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	stats := parseResult[orchestrator.StorageStats](t, result)
	if stats.Itineraries != 1 || stats.PendingItineraries != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandleBackupExportImport(t *testing.T) {
	h, cfg := testSetup(t, nil)
	ctx := context.Background()
	h.HandleItinerarySave(ctx, makeRequest(map[string]any{"destination": "Hanoi"}))

	path := filepath.Join(cfg.AllowedPaths[0], "trip.jsonl")
	result, err := h.HandleBackupExport(ctx, makeRequest(map[string]any{"path": path}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	exported := parseResult[backup.ExportOutput](t, result)
	if exported.Count != 1 {
		t.Errorf("exported count = %d, want 1", exported.Count)
	}

	h2, cfg2 := testSetup(t, nil)
	cfg2.AllowedPaths = cfg.AllowedPaths
	result, _ = h2.HandleBackupImport(ctx, makeRequest(map[string]any{"path": path}))
	imported := parseResult[backup.ImportOutput](t, result)
	if imported.Imported != 1 {
		t.Errorf("imported = %d, want 1", imported.Imported)
	}
	if got := h2.orch.State().PendingItineraryCount; got != 1 {
		t.Errorf("pending itineraries after import = %d, want 1", got)
	}

	result, _ = h2.HandleBackupImport(ctx, makeRequest(map[string]any{"path": path, "mode": "rename"}))
	if code := errorCodeOf(t, result); code != "INVALID_REQUEST" {
		t.Errorf("code = %s, want INVALID_REQUEST", code)
	}

	result, _ = h2.HandleBackupExport(ctx, makeRequest(map[string]any{"path": "/etc/roam.jsonl"}))
	if code := errorCodeOf(t, result); code != "INVALID_REQUEST" {
		t.Errorf("code = %s, want INVALID_REQUEST", code)
	}
}

func TestServerRegistration(t *testing.T) {
	h, cfg := testSetup(t, nil)

	s := NewServer(h, cfg, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expected := AllToolNames()
	if len(tools) != len(expected) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expected))
	}
	for _, name := range expected {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	h, cfg := testSetup(t, nil)
	cfg.DisabledTools = []string{"cache_put", "sync_run", "cache_put"}

	tools := NewServer(h, cfg, "test").ListTools()
	if len(tools) != len(toolRegistry)-2 {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry)-2)
	}
	for _, name := range []string{"cache_put", "sync_run"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %s was registered", name)
		}
	}
}

func TestValidateDisabledTools(t *testing.T) {
	unknown := ValidateDisabledTools([]string{"sync_run", "itinerary_delete", "nope"})
	if len(unknown) != 2 || unknown[0] != "itinerary_delete" || unknown[1] != "nope" {
		t.Errorf("unknown = %v", unknown)
	}
	if got := ValidateDisabledTools(nil); len(got) != 0 {
		t.Errorf("unknown = %v, want empty", got)
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != 12 {
		t.Fatalf("tool count = %d, want 12", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("disk I/O error at /secret/path")))
	text := resultText(t, r)
	if strings.Contains(text, "details") {
		t.Errorf("internal error exposed details: %s", text)
	}

	r = errorResult(fmt.Errorf("plain failure"))
	if code := errorCodeOf(t, r); code != "INTERNAL" {
		t.Errorf("code = %s, want INTERNAL", code)
	}
	if strings.Contains(resultText(t, r), "plain failure") {
		t.Error("untyped error message leaked")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrapped := fmt.Errorf("items[2]: %w", errors.NewNotFound("itineraries", "abc"))

	r := errorResult(wrapped)
	var payload map[string]map[string]any
	if err := json.Unmarshal([]byte(resultText(t, r)), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj := payload["error"]
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Errorf("code = %v, want %v", errObj["code"], errors.ErrNotFound)
	}
	msg, _ := errObj["message"].(string)
	if !strings.HasPrefix(msg, "items[2]: ") || strings.Contains(msg, "NOT_FOUND") {
		t.Errorf("message = %q, want wrapper context without the code", msg)
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	r := errorResult(errors.NewSyncItemFailed("message", "m1", 503))
	var payload map[string]map[string]any
	if err := json.Unmarshal([]byte(resultText(t, r)), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	details, ok := payload["error"]["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected details, got %v", payload["error"])
	}
	if details["id"] != "m1" {
		t.Errorf("details.id = %v, want m1", details["id"])
	}
}

func TestDecodeReportsMistypedField(t *testing.T) {
	_, err := decode[CachePutRequest](makeRequest(map[string]any{"url": "/api/x", "ttl_minutes": "ten"}))
	if err == nil {
		t.Fatal("decode accepted a string ttl_minutes")
	}
	rErr, ok := errors.As(err)
	if !ok || rErr.Code != errors.ErrInvalidRequest {
		t.Fatalf("err = %v, want INVALID_REQUEST", err)
	}
	if !strings.Contains(rErr.Message, "ttl_minutes") {
		t.Errorf("message %q does not name the field", rErr.Message)
	}

	got, err := decode[CacheGetRequest](makeRequest(map[string]any{"url": "/api/weather"}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.URL != "/api/weather" {
		t.Errorf("URL = %q", got.URL)
	}
}
