package worker

import (
	"net/http"
	"strings"
)

// RequestClass is the routing bucket a request falls into.
type RequestClass int

const (
	ClassAPI RequestClass = iota
	ClassStatic
	ClassNavigation
	ClassOther
)

func (c RequestClass) String() string {
	switch c {
	case ClassAPI:
		return "api"
	case ClassStatic:
		return "static"
	case ClassNavigation:
		return "navigation"
	default:
		return "other"
	}
}

// Strategy is how a request is answered.
type Strategy int

const (
	// NetworkFirstCached tries the network, stores 2xx responses and falls
	// back to the stored response, then to an offline JSON error.
	NetworkFirstCached Strategy = iota
	// NetworkOnly never reads or writes a cache; failure is an offline JSON error.
	NetworkOnly
	// CacheFirstStatic answers from the static bucket, filling it on a miss.
	CacheFirstStatic
	// NetworkFirstPage tries the network, then any cached copy of the URL,
	// then the cached root page, then the offline page.
	NetworkFirstPage
	// CacheFirstAny answers from any bucket, else from the network, else 502.
	CacheFirstAny
)

func (s Strategy) String() string {
	switch s {
	case NetworkFirstCached:
		return "network-first-cached"
	case NetworkOnly:
		return "network-only"
	case CacheFirstStatic:
		return "cache-first-static"
	case NetworkFirstPage:
		return "network-first-page"
	default:
		return "cache-first-any"
	}
}

// Rules drive request classification.
type Rules struct {
	// APIPrefix marks API requests. Defaults to "/api/".
	APIPrefix string
	// StaticAssets are exact paths treated as static.
	StaticAssets []string
	// StaticPrefixes are path prefixes treated as static.
	StaticPrefixes []string
	// CacheableAPIPaths is the allowlist of API GET paths stored for
	// offline reads. A listed path also covers its sub-paths.
	CacheableAPIPaths []string
}

func (r Rules) apiPrefix() string {
	if r.APIPrefix == "" {
		return "/api/"
	}
	return r.APIPrefix
}

// Classify assigns r to a class. Rules are checked in order: API, static,
// navigation, everything else.
func Classify(r *http.Request, rules Rules) RequestClass {
	path := r.URL.Path
	if strings.HasPrefix(path, rules.apiPrefix()) {
		return ClassAPI
	}
	if isStatic(path, rules) {
		return ClassStatic
	}
	if isNavigation(r) {
		return ClassNavigation
	}
	return ClassOther
}

// Plan returns the class and strategy for r.
func Plan(r *http.Request, rules Rules) (RequestClass, Strategy) {
	class := Classify(r, rules)
	switch class {
	case ClassAPI:
		if r.Method == http.MethodGet && rules.Cacheable(r.URL.Path) {
			return class, NetworkFirstCached
		}
		return class, NetworkOnly
	case ClassStatic:
		return class, CacheFirstStatic
	case ClassNavigation:
		return class, NetworkFirstPage
	default:
		return class, CacheFirstAny
	}
}

// Cacheable reports whether an API GET to path may be stored.
func (r Rules) Cacheable(path string) bool {
	for _, p := range r.CacheableAPIPaths {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

func isStatic(path string, rules Rules) bool {
	for _, a := range rules.StaticAssets {
		if path == a {
			return true
		}
	}
	for _, p := range rules.StaticPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

// CacheKey identifies a stored response: method plus request URI. Bodies
// are not part of the key.
func CacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.RequestURI()
}
