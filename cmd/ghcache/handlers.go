package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-cache/pkg/cache"
	"github.com/Sternrassler/github-cache/pkg/metrics"
	"github.com/Sternrassler/github-cache/pkg/origin"
	"github.com/Sternrassler/github-cache/pkg/view"
)

const (
	forceParam          = "force"
	headerForwardedHost = "X-Forwarded-Host"
)

// newRouter builds the HTTP surface of a serving instance.
func newRouter(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /ready", readyHandler(a))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /view/{request...}", viewHandler(a))
	mux.Handle("DELETE /view", refreshViewsHandler(a))
	mux.Handle("DELETE /{$}", rebuildHandler(a))
	mux.Handle("GET /", proxyHandler(a))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.redis.Ping(r.Context()).Err(); err != nil {
			a.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func proxyHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, force := cachePath(r.URL)
		logger := a.logger.With().Str("path", path).Bool("force", force).Logger()

		resp, err := a.proxy.Fetch(r.Context(), path, force)
		if err != nil {
			if errors.Is(err, origin.ErrUnavailable) {
				logger.Error().Err(err).Msg("Origin unavailable")
				http.Error(w, "Origin unavailable", http.StatusBadGateway)
				return
			}
			logger.Error().Err(err).Msg("Proxy fetch failed")
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		writeResponse(w, resp, a.hostname, logger)
	}
}

// writeResponse replays a cached response. Content-Length is recomputed
// because merged pages no longer match the first page's length.
func writeResponse(w http.ResponseWriter, resp *cache.CachedResponse, hostname string, logger zerolog.Logger) {
	h := w.Header()
	for name, values := range resp.HTTPHeader() {
		h[name] = values
	}
	h.Del("Content-Length")
	h.Set(headerForwardedHost, hostname)

	w.WriteHeader(resp.Status.Code)
	if _, err := w.Write(resp.Content); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response")
	}
}

// cachePath returns the request path plus its raw query with every force
// parameter removed, and whether force=true was requested.
func cachePath(u *url.URL) (string, bool) {
	path := u.EscapedPath()
	if u.RawQuery == "" {
		return path, false
	}

	force := false
	kept := make([]string, 0, strings.Count(u.RawQuery, "&")+1)
	for _, part := range strings.Split(u.RawQuery, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		if key == forceParam {
			force, _ = strconv.ParseBool(value)
			continue
		}
		kept = append(kept, part)
	}

	if len(kept) == 0 {
		return path, force
	}
	return path + "?" + strings.Join(kept, "&"), force
}

func viewHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.views == nil {
			http.NotFound(w, r)
			return
		}

		entries, err := a.views.TopN(r.Context(), r.PathValue("request"))
		if err != nil {
			if errors.Is(err, view.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("View query failed")
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(headerForwardedHost, a.hostname)
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to write view")
		}
	}
}

func refreshViewsHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.views == nil {
			http.NotFound(w, r)
			return
		}
		if err := a.views.Refresh(r.Context()); err != nil {
			a.logger.Error().Err(err).Msg("View refresh failed")
			http.Error(w, "View refresh failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func rebuildHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.proxy.Rebuild(r.Context()); err != nil {
			a.logger.Warn().Err(err).Msg("Cache rebuild incomplete")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
