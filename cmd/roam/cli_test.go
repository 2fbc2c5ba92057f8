package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hpungsan/roam/internal/backup"
	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/logging"
	"github.com/hpungsan/roam/internal/model"
	"github.com/hpungsan/roam/internal/orchestrator"
)

// fakeAPI stands in for the remote sync endpoints.
type fakeAPI struct {
	srv         *httptest.Server
	failSend    atomic.Bool
	itineraries atomic.Int32
	messages    atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/health":
			w.WriteHeader(http.StatusOK)
		case "/api/itinerary/sync":
			f.itineraries.Add(1)
			w.WriteHeader(http.StatusOK)
		case "/api/messages/send":
			if f.failSend.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			f.messages.Add(1)
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// setupTestApp opens an app in a temp dir whose remote calls go to apiURL.
func setupTestApp(t *testing.T, apiURL string) *app {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.APIBaseURL = apiURL
	cfg.UpstreamURL = apiURL
	cfg.SyncRatePerSecond = 0

	a, err := openApp(context.Background(), t.TempDir(), cfg, logging.Discard(), false)
	if err != nil {
		t.Fatalf("failed to open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// runCLI runs args with stdin as piped input and returns what was printed.
func runCLI(t *testing.T, a *app, stdin string, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	oldStdin := os.Stdin
	stdinR, stdinW, _ := os.Pipe()
	os.Stdin = stdinR
	go func() {
		_, _ = stdinW.WriteString(stdin)
		stdinW.Close()
	}()

	err := newCLIApp(a).Run(append([]string{"roam"}, args...))

	os.Stdin = oldStdin
	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), err
}

func mustRun(t *testing.T, a *app, stdin string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, a, stdin, args...)
	if err != nil {
		t.Fatalf("roam %s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func parseOutput[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	return v
}

// TestParseTags tests the parseTags helper function.
func TestParseTags(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single tag", input: "hiking", expected: []string{"hiking"}},
		{name: "multiple tags", input: "food,museums,beach", expected: []string{"food", "museums", "beach"}},
		{name: "tags with spaces", input: " food , museums ", expected: []string{"food", "museums"}},
		{name: "empty entries", input: "food,,beach,", expected: []string{"food", "beach"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTags(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("parseTags(%q) = %v, want %v", tt.input, got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("parseTags(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{input: "30m", want: 30},
		{input: "2h", want: 120},
		{input: "1d", want: 1440},
		{input: "0m", wantErr: true},
		{input: "-5m", wantErr: true},
		{input: "abcm", wantErr: true},
		{input: "15", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseTTL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseTTL(%q) = %d, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTTL(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseTTL(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestCLIItinerarySaveAndList(t *testing.T) {
	api := newFakeAPI(t)
	a := setupTestApp(t, api.srv.URL)

	out := mustRun(t, a, `{"days":[{"city":"Lisbon"}]}`,
		"itinerary", "save", "--destination=Lisbon", "--start=2026-05-01", "--budget=800", "--prefs=food,fado")
	it := parseOutput[model.Itinerary](t, out)
	if it.ID == "" {
		t.Error("expected non-empty ID")
	}
	if it.Status != model.ItinerarySyncPending {
		t.Errorf("status = %s, want sync_pending", it.Status)
	}
	if len(it.Preferences) != 2 || string(it.Payload) == "" {
		t.Errorf("itinerary = %+v, want preferences and payload", it)
	}

	mustRun(t, a, "", "itinerary", "save", "--destination=Sintra", "--draft")

	list := parseOutput[[]model.Itinerary](t, mustRun(t, a, "", "itinerary", "list"))
	if len(list) != 2 {
		t.Errorf("list count = %d, want 2", len(list))
	}
	pending := parseOutput[[]model.Itinerary](t, mustRun(t, a, "", "itinerary", "list", "--status=sync_pending"))
	if len(pending) != 1 || pending[0].ID != it.ID {
		t.Errorf("pending = %+v, want only %s", pending, it.ID)
	}

	_, err := runCLI(t, a, "", "itinerary", "list", "--status=lost")
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}

	_, err = runCLI(t, a, "", "itinerary", "save")
	if err == nil || !strings.Contains(err.Error(), "destination is required") {
		t.Errorf("expected missing destination error, got %v", err)
	}
}

func TestCLIMessageQueueListResend(t *testing.T) {
	api := newFakeAPI(t)
	a := setupTestApp(t, api.srv.URL)

	m := parseOutput[model.ChatMessage](t, mustRun(t, a, "", "message", "queue", "--room=r1", "meet", "at", "the", "station"))
	if m.Content != "meet at the station" {
		t.Errorf("content = %q", m.Content)
	}
	mustRun(t, a, "running late", "message", "queue", "--room=r2", "--kind=text")

	byRoom := parseOutput[[]model.ChatMessage](t, mustRun(t, a, "", "message", "list", "--room=r2"))
	if len(byRoom) != 1 || byRoom[0].Content != "running late" {
		t.Errorf("room r2 = %+v", byRoom)
	}

	sent := parseOutput[model.ChatMessage](t, mustRun(t, a, "", "message", "resend", m.ID))
	if sent.Status != model.MessageSent {
		t.Errorf("status = %s, want sent", sent.Status)
	}
	if api.messages.Load() != 1 {
		t.Errorf("messages sent = %d, want 1", api.messages.Load())
	}

	_, err := runCLI(t, a, "", "message", "resend", "nope")
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestCLISync(t *testing.T) {
	api := newFakeAPI(t)
	a := setupTestApp(t, api.srv.URL)

	mustRun(t, a, "", "itinerary", "save", "--destination=Tokyo")
	mustRun(t, a, "", "message", "queue", "--room=r", "konnichiwa")

	res := parseOutput[orchestrator.SyncResult](t, mustRun(t, a, "", "sync"))
	if res.Skipped {
		t.Fatalf("sync skipped: %s", res.SkipReason)
	}
	if res.ItinerariesSynced != 1 || res.MessagesSent != 1 {
		t.Errorf("result = %+v", res)
	}

	status := parseOutput[StatusOutput](t, mustRun(t, a, "", "status"))
	if !status.Sync.IsOnline {
		t.Error("expected online after a successful probe")
	}
	if status.Sync.PendingItineraryCount != 0 || status.Sync.PendingMessageCount != 0 {
		t.Errorf("pending counts = %d/%d, want 0/0", status.Sync.PendingItineraryCount, status.Sync.PendingMessageCount)
	}
	if status.Storage.Itineraries != 1 || status.Storage.Messages != 1 {
		t.Errorf("storage = %+v", status.Storage)
	}
}

func TestCLISyncFailuresAreReported(t *testing.T) {
	api := newFakeAPI(t)
	api.failSend.Store(true)
	a := setupTestApp(t, api.srv.URL)

	mustRun(t, a, "", "message", "queue", "--room=r", "hello")
	res := parseOutput[orchestrator.SyncResult](t, mustRun(t, a, "", "sync", "--assume-online"))
	if res.MessagesFailed != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestCLISyncOffline(t *testing.T) {
	api := newFakeAPI(t)
	url := api.srv.URL
	api.srv.Close()
	a := setupTestApp(t, url)

	mustRun(t, a, "", "itinerary", "save", "--destination=Reykjavik")
	res := parseOutput[orchestrator.SyncResult](t, mustRun(t, a, "", "sync"))
	if !res.Skipped || res.SkipReason != orchestrator.SkipOffline {
		t.Errorf("result = %+v, want skipped offline", res)
	}
}

func TestCLICache(t *testing.T) {
	api := newFakeAPI(t)
	a := setupTestApp(t, api.srv.URL)

	mustRun(t, a, `{"rate":1.08}`, "cache", "put", "/api/rates", "--ttl=2h")

	out := mustRun(t, a, "", "cache", "get", "/api/rates")
	got := parseOutput[map[string]float64](t, out)
	if got["rate"] != 1.08 {
		t.Errorf("cached = %v", got)
	}

	_, err := runCLI(t, a, "", "cache", "get", "/api/missing")
	if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	_, err = runCLI(t, a, "not json", "cache", "put", "/api/bad")
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}

	sweep := parseOutput[map[string]int](t, mustRun(t, a, "", "cache", "sweep"))
	if sweep["removed"] != 0 {
		t.Errorf("sweep removed %d live entries", sweep["removed"])
	}

	cleared := parseOutput[map[string]int](t, mustRun(t, a, "", "cache", "clear"))
	if cleared["removed"] != 1 {
		t.Errorf("clear removed %d, want 1", cleared["removed"])
	}

	maintained := parseOutput[map[string]int](t, mustRun(t, a, "", "cache", "maintain"))
	if maintained["evicted"] != 0 {
		t.Errorf("evicted = %d, want 0", maintained["evicted"])
	}
}

func TestCLIStats(t *testing.T) {
	api := newFakeAPI(t)
	a := setupTestApp(t, api.srv.URL)

	mustRun(t, a, "", "itinerary", "save", "--destination=Accra")
	stats := parseOutput[orchestrator.StorageStats](t, mustRun(t, a, "", "stats"))
	if stats.Itineraries != 1 || stats.PendingItineraries != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCLIExportImport(t *testing.T) {
	api := newFakeAPI(t)
	a := setupTestApp(t, api.srv.URL)
	dir := t.TempDir()
	a.cfg.AllowedPaths = []string{dir}

	mustRun(t, a, "", "itinerary", "save", "--destination=Nairobi")
	mustRun(t, a, "", "message", "queue", "--room=r", "jambo")

	path := filepath.Join(dir, "trip.jsonl")
	exported := parseOutput[backup.ExportOutput](t, mustRun(t, a, "", "export", "--path", path))
	if exported.Count != 2 {
		t.Errorf("exported = %d, want 2", exported.Count)
	}

	// Everything already exists, so the default mode imports nothing.
	out := parseOutput[backup.ImportOutput](t, mustRun(t, a, "", "import", path))
	if out.Imported != 0 || len(out.Errors) != 1 || out.Errors[0].Code != "KEY_COLLISION" {
		t.Errorf("error mode = %+v", out)
	}

	out = parseOutput[backup.ImportOutput](t, mustRun(t, a, "", "import", "--mode=skip", path))
	if out.Imported != 0 || out.Skipped != 2 {
		t.Errorf("skip mode = %+v", out)
	}

	_, err := runCLI(t, a, "", "import")
	if err == nil || !strings.Contains(err.Error(), "[INVALID_REQUEST]") {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestIsCLIMode(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	tests := []struct {
		args []string
		want bool
	}{
		{args: []string{"roam"}, want: false},
		{args: []string{"roam", "serve"}, want: true},
		{args: []string{"roam", "sync"}, want: true},
		{args: []string{"roam", "itinerary", "list"}, want: true},
		{args: []string{"roam", "--help"}, want: true},
		{args: []string{"roam", "-v"}, want: true},
		{args: []string{"roam", "unknown"}, want: false},
	}
	for _, tt := range tests {
		os.Args = tt.args
		if got := isCLIMode(); got != tt.want {
			t.Errorf("isCLIMode(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	tests := []struct {
		args []string
		want bool
	}{
		{args: []string{"roam"}, want: false},
		{args: []string{"roam", "help"}, want: true},
		{args: []string{"roam", "--version"}, want: true},
		{args: []string{"roam", "stats"}, want: false},
	}
	for _, tt := range tests {
		os.Args = tt.args
		if got := isHelpOrVersion(); got != tt.want {
			t.Errorf("isHelpOrVersion(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestReadStdinWithLimit(t *testing.T) {
	got, err := readStdinWithLimit(strings.NewReader("  hello  \n"), 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	_, err = readStdinWithLimit(strings.NewReader(strings.Repeat("x", 65)), 64)
	if err == nil {
		t.Error("expected error for oversized input")
	}
}
