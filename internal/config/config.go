package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// UpstreamURL is the web origin the intercepting proxy forwards to.
	UpstreamURL string `json:"upstream_url,omitempty"`

	// APIBaseURL is the origin of the remote sync endpoints. Defaults to UpstreamURL.
	APIBaseURL string `json:"api_base_url,omitempty"`

	// ItinerarySyncPath and MessageSendPath are resolved against APIBaseURL.
	ItinerarySyncPath string `json:"itinerary_sync_path,omitempty"`
	MessageSendPath   string `json:"message_send_path,omitempty"`

	// HealthURL is probed by the connectivity monitor. Defaults to APIBaseURL + "/api/health".
	HealthURL string `json:"health_url,omitempty"`

	// ListenAddr is where `roam serve` accepts connections.
	ListenAddr string `json:"listen_addr,omitempty"`

	// CacheVersion is embedded in every cache bucket name. Changing it makes
	// activation delete the buckets of the previous version.
	CacheVersion string `json:"cache_version,omitempty"`

	// StaticAssets are precached on install and served cache-first.
	StaticAssets []string `json:"static_assets,omitempty"`

	// StaticPrefixes mark additional paths as static (cache-first) without precaching.
	StaticPrefixes []string `json:"static_prefixes,omitempty"`

	// CacheableAPIPaths is the allowlist of API GET paths that are stored for offline reads.
	CacheableAPIPaths []string `json:"cacheable_api_paths,omitempty"`

	// StaleAfterHours is the maintenance eviction window for the dynamic bucket.
	StaleAfterHours int `json:"stale_after_hours,omitempty"`

	// ManualActivation keeps an installed worker in the waiting state until a
	// SKIP_WAITING control message arrives. By default it activates immediately.
	ManualActivation bool `json:"manual_activation,omitempty"`

	// InstallRetries is the number of install attempts before serve gives up.
	InstallRetries int `json:"install_retries,omitempty"`

	// PendingPollIntervalSeconds controls how often pending counts are recomputed.
	PendingPollIntervalSeconds int `json:"pending_poll_interval_seconds,omitempty"`

	// ProbeIntervalSeconds controls how often connectivity is probed.
	ProbeIntervalSeconds int `json:"probe_interval_seconds,omitempty"`

	// MessageMaxRetries is the number of failed sends after which a queued
	// chat message is marked failed and no longer retried.
	MessageMaxRetries int `json:"message_max_retries,omitempty"`

	// SyncRatePerSecond paces requests to the remote sync endpoints.
	SyncRatePerSecond float64 `json:"sync_rate_per_second,omitempty"`

	// OfflinePageMarkdown is rendered as the last-resort navigation response.
	OfflinePageMarkdown string `json:"offline_page_markdown,omitempty"`

	// NotificationRoute is opened when the user picks the "explore" notification action.
	NotificationRoute string `json:"notification_route,omitempty"`

	// SessionBackend selects the session store: "memory" or "redis".
	SessionBackend string `json:"session_backend,omitempty"`

	// RedisURL is used when SessionBackend is "redis" (redis://host:port/db).
	RedisURL string `json:"redis_url,omitempty"`

	// APIToken seeds the session store with a bearer token for remote calls.
	APIToken string `json:"api_token,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is "text" or "json".
	LogFormat string `json:"log_format,omitempty"`

	// CORSOrigins lists origins allowed to call the control surface.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// AllowedPaths lists extra directories that export and import may use
	// besides ~/.roam/exports. Only absolute paths are honoured.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths lifts the directory restriction on export and import.
	// Symlinks are still rejected.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`
}

const defaultOfflinePage = `# You are offline

This page has not been saved for offline use yet.
Your itineraries and messages are kept on this device and will sync when the connection returns.
`

// DefaultConfig returns the default configuration.
// List defaults are applied separately (see applyListDefaults) so that
// merging never appends user entries to built-in lists.
func DefaultConfig() *Config {
	return &Config{
		UpstreamURL:                "http://localhost:3000",
		ItinerarySyncPath:          "/api/itinerary/sync",
		MessageSendPath:            "/api/messages/send",
		ListenAddr:                 "127.0.0.1:7420",
		CacheVersion:               "v1",
		StaleAfterHours:            24,
		InstallRetries:             3,
		PendingPollIntervalSeconds: 30,
		ProbeIntervalSeconds:       15,
		MessageMaxRetries:          5,
		SyncRatePerSecond:          5,
		OfflinePageMarkdown:        defaultOfflinePage,
		NotificationRoute:          "/dashboard",
		SessionBackend:             "memory",
		LogLevel:                   "info",
		LogFormat:                  "text",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.roam.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.roam) and repo (.roam) directories.
// Repo config is found by walking upward from startDir to find the nearest .roam/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing. The environment overlay is applied last.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := ApplyEnv(cfg, filepath.Join(startDir, ".env")); err != nil {
		return nil, err
	}
	applyListDefaults(cfg)
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .roam/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".roam", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ApplyEnv overlays ROAM_* environment variables onto cfg. When dotenvPath
// names an existing file it is loaded first; variables already present in
// the process environment win over the file.
func ApplyEnv(cfg *Config, dotenvPath string) error {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	setString(&cfg.UpstreamURL, "ROAM_UPSTREAM_URL")
	setString(&cfg.APIBaseURL, "ROAM_API_BASE_URL")
	setString(&cfg.HealthURL, "ROAM_HEALTH_URL")
	setString(&cfg.ListenAddr, "ROAM_LISTEN_ADDR")
	setString(&cfg.CacheVersion, "ROAM_CACHE_VERSION")
	setString(&cfg.SessionBackend, "ROAM_SESSION_BACKEND")
	setString(&cfg.RedisURL, "ROAM_REDIS_URL")
	setString(&cfg.APIToken, "ROAM_API_TOKEN")
	setString(&cfg.LogLevel, "ROAM_LOG_LEVEL")
	setString(&cfg.LogFormat, "ROAM_LOG_FORMAT")

	if v := os.Getenv("ROAM_MESSAGE_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("ROAM_MESSAGE_MAX_RETRIES must be an integer")
		}
		cfg.MessageMaxRetries = n
	}
	if v := os.Getenv("ROAM_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	applyListDefaults(merged)
	return merged, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.UpstreamURL = pickString(overlay.UpstreamURL, base.UpstreamURL)
	result.APIBaseURL = pickString(overlay.APIBaseURL, base.APIBaseURL)
	result.ItinerarySyncPath = pickString(overlay.ItinerarySyncPath, base.ItinerarySyncPath)
	result.MessageSendPath = pickString(overlay.MessageSendPath, base.MessageSendPath)
	result.HealthURL = pickString(overlay.HealthURL, base.HealthURL)
	result.ListenAddr = pickString(overlay.ListenAddr, base.ListenAddr)
	result.CacheVersion = pickString(overlay.CacheVersion, base.CacheVersion)
	result.OfflinePageMarkdown = pickString(overlay.OfflinePageMarkdown, base.OfflinePageMarkdown)
	result.NotificationRoute = pickString(overlay.NotificationRoute, base.NotificationRoute)
	result.SessionBackend = pickString(overlay.SessionBackend, base.SessionBackend)
	result.RedisURL = pickString(overlay.RedisURL, base.RedisURL)
	result.APIToken = pickString(overlay.APIToken, base.APIToken)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pickString(overlay.LogFormat, base.LogFormat)

	result.StaleAfterHours = pickInt(overlay.StaleAfterHours, base.StaleAfterHours)
	result.InstallRetries = pickInt(overlay.InstallRetries, base.InstallRetries)
	result.PendingPollIntervalSeconds = pickInt(overlay.PendingPollIntervalSeconds, base.PendingPollIntervalSeconds)
	result.ProbeIntervalSeconds = pickInt(overlay.ProbeIntervalSeconds, base.ProbeIntervalSeconds)
	result.MessageMaxRetries = pickInt(overlay.MessageMaxRetries, base.MessageMaxRetries)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.SyncRatePerSecond = overlay.SyncRatePerSecond
	if result.SyncRatePerSecond == 0 {
		result.SyncRatePerSecond = base.SyncRatePerSecond
	}

	// Booleans: overlay wins if true, else base
	result.ManualActivation = base.ManualActivation || overlay.ManualActivation
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.StaticAssets = mergeStringSlice(base.StaticAssets, overlay.StaticAssets)
	result.StaticPrefixes = mergeStringSlice(base.StaticPrefixes, overlay.StaticPrefixes)
	result.CacheableAPIPaths = mergeStringSlice(base.CacheableAPIPaths, overlay.CacheableAPIPaths)
	result.CORSOrigins = mergeStringSlice(base.CORSOrigins, overlay.CORSOrigins)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)

	return result
}

// applyListDefaults fills list settings that no config file provided.
func applyListDefaults(cfg *Config) {
	if len(cfg.StaticAssets) == 0 {
		cfg.StaticAssets = []string{
			"/",
			"/dashboard",
			"/itinerary",
			"/chat",
			"/offline",
			"/manifest.json",
			"/icons/icon-192x192.png",
			"/icons/icon-512x512.png",
		}
	}
	if len(cfg.StaticPrefixes) == 0 {
		cfg.StaticPrefixes = []string{"/_next/static/", "/static/", "/icons/"}
	}
	if len(cfg.CacheableAPIPaths) == 0 {
		cfg.CacheableAPIPaths = []string{"/api/itinerary", "/api/buddies", "/api/user/profile"}
	}
}

// StaticBucket, DynamicBucket and ItineraryBucket name the cache buckets of the current version.
func (c *Config) StaticBucket() string    { return "roam-static-" + c.CacheVersion }
func (c *Config) DynamicBucket() string   { return "roam-dynamic-" + c.CacheVersion }
func (c *Config) ItineraryBucket() string { return "roam-itinerary-" + c.CacheVersion }

// ResolvedAPIBaseURL returns APIBaseURL, falling back to UpstreamURL.
func (c *Config) ResolvedAPIBaseURL() string {
	return strings.TrimRight(pickString(c.APIBaseURL, c.UpstreamURL), "/")
}

// ResolvedHealthURL returns HealthURL, falling back to the API origin's health path.
func (c *Config) ResolvedHealthURL() string {
	if c.HealthURL != "" {
		return c.HealthURL
	}
	return c.ResolvedAPIBaseURL() + "/api/health"
}

// StaleAfter returns the maintenance eviction window.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// PendingPollInterval returns the pending count refresh interval.
func (c *Config) PendingPollInterval() time.Duration {
	return time.Duration(c.PendingPollIntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

func pickString(overlay, base string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
