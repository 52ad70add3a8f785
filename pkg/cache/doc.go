// Package cache provides the durable response cache with Redis backend.
//
// Every proxy instance shares the same Redis, so a response fetched by one
// instance is served by all of them until it expires.
//
// # Entries
//
// A CachedResponse carries the origin status, an ordered header list (without
// Transfer-Encoding and Link) and the body. Bodies are stored gzip compressed
// and only decompressed when handed to a caller:
//
//	entry := cache.NewResponse(resp.StatusCode, resp.Status, resp.Header, body)
//	entry.ValidUntil = time.Now().Add(10 * time.Minute)
//	compressed, err := entry.Compress()
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, keyspace.New("github-cache"))
//
//	if _, err := manager.Set(ctx, "/orgs/acme/repos", compressed); err != nil {
//		// log and carry on, the next refresh retries
//	}
//
//	entry, err := manager.Get(ctx, "/orgs/acme/repos")
//	switch {
//	case errors.Is(err, cache.ErrCacheMiss), errors.Is(err, cache.ErrStale):
//		// fetch from origin
//	case err != nil:
//		// redis unavailable, fail open
//	}
//
// Expired entries are evicted lazily by Get, and Redis expires the key at the
// same instant.
//
// # Metrics
//
//   - ghcache_cache_hits_total
//   - ghcache_cache_misses_total
//   - ghcache_cache_stale_total
//   - ghcache_cache_stored_bytes_total
//   - ghcache_cache_errors_total{operation}
package cache
