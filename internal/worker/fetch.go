package worker

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"github.com/hpungsan/roam/internal/cachestorage"
)

// HeaderCache reports which tier answered a request.
const HeaderCache = "X-Roam-Cache"

const (
	tierHit     = "hit"     // served from a cache bucket
	tierMiss    = "miss"    // served from the network
	tierOffline = "offline" // synthesized fallback
)

// maxRequestBody bounds request bodies buffered for forwarding. Larger
// bodies are refused with 413 rather than forwarded truncated.
const maxRequestBody = 10 << 20

var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// OfflineError is the JSON body returned when an API call cannot be answered.
type OfflineError struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline"`
	Message string `json:"message"`
}

// ServeHTTP answers r. It always writes a response.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			http.Error(rw, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, "failed to read request body", http.StatusBadRequest)
		return
	}

	if !w.controlling() {
		w.passThrough(rw, r, body)
		return
	}

	class, strategy := Plan(r, w.opts.Rules)
	w.logger.Debug("worker route", "method", r.Method, "path", r.URL.Path, "class", class, "strategy", strategy)

	switch strategy {
	case NetworkFirstCached:
		w.serveNetworkFirstCached(rw, r)
	case NetworkOnly:
		w.serveNetworkOnly(rw, r, body)
	case CacheFirstStatic:
		w.serveStatic(rw, r, body)
	case NetworkFirstPage:
		w.serveNavigation(rw, r, body)
	default:
		w.serveCacheFirstAny(rw, r, body)
	}
}

func (w *Worker) passThrough(rw http.ResponseWriter, r *http.Request, body []byte) {
	resp, err := w.forward(r, body)
	if err != nil {
		http.Error(rw, "upstream unavailable", http.StatusBadGateway)
		return
	}
	writeResponse(rw, resp, "")
}

func (w *Worker) serveNetworkFirstCached(rw http.ResponseWriter, r *http.Request) {
	key := CacheKey(r)
	bucket := w.caches.Bucket(w.opts.Buckets.Itinerary)

	resp, err := w.forward(r, nil)
	if err == nil {
		if ok2xx(resp.Status) {
			w.putLater(bucket, key, resp)
		}
		writeResponse(rw, resp, tierMiss)
		return
	}

	cached, cerr := bucket.Match(r.Context(), key)
	if cerr != nil {
		w.logger.Warn("cache read failed", "bucket", bucket.Name(), "key", key, "error", cerr)
	}
	if cached != nil {
		writeResponse(rw, cached, tierHit)
		return
	}
	writeOfflineJSON(rw, "You are offline and no saved copy of this data is available.")
}

func (w *Worker) serveNetworkOnly(rw http.ResponseWriter, r *http.Request, body []byte) {
	resp, err := w.forward(r, body)
	if err != nil {
		writeOfflineJSON(rw, "You are offline. This request needs a connection and was not sent.")
		return
	}
	writeResponse(rw, resp, tierMiss)
}

func (w *Worker) serveStatic(rw http.ResponseWriter, r *http.Request, body []byte) {
	if !readOnly(r) {
		resp, err := w.forward(r, body)
		if err != nil {
			writeAssetUnavailable(rw)
			return
		}
		writeResponse(rw, resp, tierMiss)
		return
	}

	key := CacheKey(r)
	bucket := w.caches.Bucket(w.opts.Buckets.Static)

	cached, err := bucket.Match(r.Context(), key)
	if err != nil {
		w.logger.Warn("cache read failed", "bucket", bucket.Name(), "key", key, "error", err)
	}
	if cached != nil {
		writeResponse(rw, cached, tierHit)
		return
	}

	resp, err := w.forward(r, nil)
	if err != nil {
		writeAssetUnavailable(rw)
		return
	}
	if ok2xx(resp.Status) {
		w.putLater(bucket, key, resp)
	}
	writeResponse(rw, resp, tierMiss)
}

// serveNavigation answers page loads. Form submissions are forwarded with
// their body and never stored or answered from a cache.
func (w *Worker) serveNavigation(rw http.ResponseWriter, r *http.Request, body []byte) {
	key := CacheKey(r)

	if !readOnly(r) {
		resp, err := w.forward(r, body)
		if err != nil {
			w.writeOfflinePage(rw)
			return
		}
		writeResponse(rw, resp, tierMiss)
		return
	}

	resp, err := w.forward(r, nil)
	if err == nil {
		if ok2xx(resp.Status) {
			w.putLater(w.caches.Bucket(w.opts.Buckets.Dynamic), key, resp)
		}
		writeResponse(rw, resp, tierMiss)
		return
	}

	for _, k := range []string{key, http.MethodGet + " /"} {
		cached, _, cerr := w.caches.Match(r.Context(), k)
		if cerr != nil {
			w.logger.Warn("cache read failed", "key", k, "error", cerr)
			continue
		}
		if cached != nil {
			writeResponse(rw, cached, tierHit)
			return
		}
	}

	w.writeOfflinePage(rw)
}

func (w *Worker) serveCacheFirstAny(rw http.ResponseWriter, r *http.Request, body []byte) {
	if r.Method == http.MethodGet {
		cached, _, err := w.caches.Match(r.Context(), CacheKey(r))
		if err != nil {
			w.logger.Warn("cache read failed", "key", CacheKey(r), "error", err)
		}
		if cached != nil {
			writeResponse(rw, cached, tierHit)
			return
		}
	}

	resp, err := w.forward(r, body)
	if err != nil {
		rw.Header().Set(HeaderCache, tierOffline)
		http.Error(rw, "upstream unavailable", http.StatusBadGateway)
		return
	}
	writeResponse(rw, resp, tierMiss)
}

// putLater writes resp to bucket after the response has been sent.
func (w *Worker) putLater(bucket *cachestorage.Bucket, key string, resp *cachestorage.Response) {
	w.waitUntil("cache-put", func(ctx context.Context) {
		if err := bucket.Put(ctx, key, resp); err != nil {
			w.logger.Warn("cache write failed", "bucket", bucket.Name(), "key", key, "error", err)
		}
	})
}

// forward replays r against the upstream origin.
func (w *Worker) forward(r *http.Request, body []byte) (*cachestorage.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, w.upstream+r.URL.RequestURI(), reader)
	if err != nil {
		return nil, err
	}
	out.Header = r.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}
	// Let the transport negotiate compression so stored bodies are plain.
	out.Header.Del("Accept-Encoding")
	return w.roundTrip(out)
}

func (w *Worker) roundTrip(req *http.Request) (*cachestorage.Response, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Content-Length")
	return &cachestorage.Response{Status: resp.StatusCode, Header: header, Body: data}, nil
}

func writeResponse(rw http.ResponseWriter, resp *cachestorage.Response, tier string) {
	h := rw.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if tier != "" {
		h.Set(HeaderCache, tier)
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	rw.WriteHeader(resp.Status)
	_, _ = rw.Write(resp.Body)
}

func (w *Worker) writeOfflinePage(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Header().Set(HeaderCache, tierOffline)
	rw.WriteHeader(http.StatusServiceUnavailable)
	_, _ = rw.Write(w.offlinePage)
}

func writeAssetUnavailable(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Header().Set(HeaderCache, tierOffline)
	rw.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(rw, "Offline: this asset is not available.\n")
}

func writeOfflineJSON(rw http.ResponseWriter, message string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set(HeaderCache, tierOffline)
	rw.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(rw).Encode(OfflineError{
		Error:   "Network unavailable",
		Offline: true,
		Message: message,
	})
}

// readOnly reports whether r may be answered from or stored in a cache.
func readOnly(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func ok2xx(status int) bool {
	return status >= 200 && status <= 299
}
