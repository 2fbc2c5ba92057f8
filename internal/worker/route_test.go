package worker

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var testRules = Rules{
	StaticAssets:      []string{"/", "/manifest.json"},
	StaticPrefixes:    []string{"/static/", "/icons/"},
	CacheableAPIPaths: []string{"/api/itinerary", "/api/user/profile"},
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		target       string
		header       map[string]string
		wantClass    RequestClass
		wantStrategy Strategy
	}{
		{"cacheable api get", "GET", "/api/itinerary", nil, ClassAPI, NetworkFirstCached},
		{"cacheable api sub-path", "GET", "/api/itinerary/42?full=1", nil, ClassAPI, NetworkFirstCached},
		{"api get outside allowlist", "GET", "/api/buddies", nil, ClassAPI, NetworkOnly},
		{"api post", "POST", "/api/itinerary", nil, ClassAPI, NetworkOnly},
		{"api delete", "DELETE", "/api/itinerary/1", nil, ClassAPI, NetworkOnly},
		{"prefix not a path segment", "GET", "/api/itinerary-export", nil, ClassAPI, NetworkOnly},
		{"static exact", "GET", "/manifest.json", nil, ClassStatic, CacheFirstStatic},
		{"static prefix", "GET", "/static/app.js", nil, ClassStatic, CacheFirstStatic},
		{"root is static even for navigation", "GET", "/", map[string]string{"Sec-Fetch-Mode": "navigate"}, ClassStatic, CacheFirstStatic},
		{"navigation by fetch mode", "GET", "/trips/1", map[string]string{"Sec-Fetch-Mode": "navigate"}, ClassNavigation, NetworkFirstPage},
		{"navigation by accept", "GET", "/trips/1", map[string]string{"Accept": "text/html,application/xhtml+xml"}, ClassNavigation, NetworkFirstPage},
		{"post accepting html is not navigation", "POST", "/form", map[string]string{"Accept": "text/html"}, ClassOther, CacheFirstAny},
		{"everything else", "GET", "/favicon.ico", nil, ClassOther, CacheFirstAny},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			class, strategy := Plan(r, testRules)
			if class != tt.wantClass {
				t.Errorf("class = %s, want %s", class, tt.wantClass)
			}
			if strategy != tt.wantStrategy {
				t.Errorf("strategy = %s, want %s", strategy, tt.wantStrategy)
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/itinerary?page=2", nil)
	if got := CacheKey(r); got != "GET /api/itinerary?page=2" {
		t.Errorf("CacheKey() = %q", got)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInstalling, StateWaiting, true},
		{StateWaiting, StateActive, true},
		{StateActive, StateRedundant, true},
		{StateInstalling, StateActive, false},
		{StateActive, StateWaiting, false},
		{StateRedundant, StateActive, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
