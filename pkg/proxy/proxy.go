// Package proxy decides, per request path, whether to answer from the shared
// cache or from the origin.
//
// Only allow-listed paths are ever persisted. A forced fetch always goes to
// the origin and refreshes the cached entry of an allow-listed path. Every
// result is handed to the caller decompressed; the stored form stays
// compressed.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/github-cache/pkg/cache"
	"github.com/Sternrassler/github-cache/pkg/keyspace"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for proxy decisions.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghcache_proxy_requests_total",
		Help: "Total proxy fetches by source (memo, cache, origin, passthrough)",
	}, []string{"source"})

	storeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghcache_proxy_store_failures_total",
		Help: "Total number of origin responses that could not be cached",
	})

	rebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ghcache_proxy_rebuild_duration_seconds",
		Help:    "Duration of full cache rebuilds in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	rebuildFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghcache_proxy_rebuild_failures_total",
		Help: "Total number of allow-listed paths that failed to refresh during a rebuild",
	})
)

// Fetcher retrieves a response from the origin. *origin.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (*cache.CachedResponse, error)
}

// Store is the durable response cache. *cache.Manager implements it.
type Store interface {
	Get(ctx context.Context, path string) (*cache.CachedResponse, error)
	Set(ctx context.Context, path string, entry *cache.CachedResponse) (*cache.CachedResponse, error)
}

// Config holds the proxy configuration.
type Config struct {
	// AllowList is the set of request paths (query string included) that may be cached
	AllowList []string

	// MemoTTL enables an in-process memo of cached responses. Zero disables it.
	MemoTTL time.Duration

	// MemoSize bounds the memo; zero means unbounded
	MemoSize int
}

// Cache answers fetches from the durable cache or the origin.
type Cache struct {
	remote Fetcher
	store  Store
	paths  []string
	allow  map[string]struct{}
	memo   *expirable.LRU[string, *cache.CachedResponse]
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a proxy cache.
func New(remote Fetcher, store Store, cfg Config, logger zerolog.Logger) *Cache {
	c := &Cache{
		remote: remote,
		store:  store,
		allow:  make(map[string]struct{}, len(cfg.AllowList)),
		logger: logger,
		now:    time.Now,
	}
	for _, path := range cfg.AllowList {
		if _, dup := c.allow[path]; dup || path == "" {
			continue
		}
		if keyspace.Reserved(path) {
			logger.Warn().Str("path", path).Msg("Allow-list entry collides with an internal key, ignored")
			continue
		}
		c.allow[path] = struct{}{}
		c.paths = append(c.paths, path)
	}
	if cfg.MemoTTL > 0 {
		c.memo = expirable.NewLRU[string, *cache.CachedResponse](cfg.MemoSize, nil, cfg.MemoTTL)
	}
	return c
}

// IsCacheable reports whether path is allow-listed.
func (c *Cache) IsCacheable(path string) bool {
	_, ok := c.allow[path]
	return ok
}

// Paths returns the allow-listed paths in configuration order.
func (c *Cache) Paths() []string {
	return append([]string(nil), c.paths...)
}

// Fetch returns the response for path, decompressed.
//
//	allow-listed  force  behaviour
//	any           true   origin; the cache entry is overwritten if allow-listed
//	yes           false  cache; on miss, stale entry or cache error: origin, then store
//	no            false  origin, never persisted
//
// Errors from the origin are returned as-is (wrapping origin.ErrUnavailable);
// there is no fallback to an expired entry.
func (c *Cache) Fetch(ctx context.Context, path string, force bool) (*cache.CachedResponse, error) {
	cacheable := c.IsCacheable(path)

	resp, err := c.fetch(ctx, path, cacheable, force)
	if err != nil {
		return nil, err
	}

	plain, err := resp.Decompressed()
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return plain, nil
}

func (c *Cache) fetch(ctx context.Context, path string, cacheable, force bool) (*cache.CachedResponse, error) {
	if !cacheable {
		requestsTotal.WithLabelValues("passthrough").Inc()
		return c.remote.Fetch(ctx, path)
	}

	if force {
		return c.refresh(ctx, path)
	}

	if resp, ok := c.memoGet(path); ok {
		requestsTotal.WithLabelValues("memo").Inc()
		return resp, nil
	}

	resp, err := c.store.Get(ctx, path)
	if err == nil {
		requestsTotal.WithLabelValues("cache").Inc()
		c.memoAdd(path, resp)
		return resp, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) && !errors.Is(err, cache.ErrStale) {
		// Fail open: a broken cache degrades to origin fetches
		c.logger.Warn().Err(err).Str("path", path).Msg("Cache lookup failed")
	}

	return c.refresh(ctx, path)
}

// refresh fetches path from the origin and overwrites the cached entry.
func (c *Cache) refresh(ctx context.Context, path string) (*cache.CachedResponse, error) {
	requestsTotal.WithLabelValues("origin").Inc()

	resp, err := c.remote.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}

	if _, err := c.store.Set(ctx, path, resp); err != nil {
		storeFailuresTotal.Inc()
		c.logger.Warn().Err(err).Str("path", path).Msg("Failed to cache response")
	}
	c.memoAdd(path, resp)

	return resp, nil
}

// Rebuild force-refreshes every allow-listed path, one after the other.
// Individual failures do not stop the rebuild; they are returned joined.
func (c *Cache) Rebuild(ctx context.Context) error {
	start := time.Now()
	defer func() {
		rebuildDuration.Observe(time.Since(start).Seconds())
	}()

	if c.memo != nil {
		c.memo.Purge()
	}

	var errs []error
	for _, path := range c.paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := c.refresh(ctx, path); err != nil {
			rebuildFailuresTotal.Inc()
			c.logger.Warn().Err(err).Str("path", path).Msg("Rebuild of path failed")
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	c.logger.Info().
		Int("paths", len(c.paths)).
		Int("failed", len(errs)).
		Dur("duration", time.Since(start)).
		Msg("Cache rebuild complete")

	return errors.Join(errs...)
}

func (c *Cache) memoGet(path string) (*cache.CachedResponse, bool) {
	if c.memo == nil {
		return nil, false
	}
	resp, ok := c.memo.Get(path)
	if !ok {
		return nil, false
	}
	if resp.ExpiredAt(c.now()) {
		c.memo.Remove(path)
		return nil, false
	}
	return resp, true
}

func (c *Cache) memoAdd(path string, resp *cache.CachedResponse) {
	if c.memo != nil {
		c.memo.Add(path, resp)
	}
}
