package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh entries served from Redis
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghcache_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	// CacheMisses tracks lookups for paths that were never cached
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghcache_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheStale tracks lookups that found and evicted an expired entry
	CacheStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghcache_cache_stale_total",
			Help: "Total number of expired response cache entries evicted on read",
		},
	)

	// StoredBytes tracks the serialized size of written entries
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghcache_cache_stored_bytes_total",
			Help: "Total bytes written to the response cache",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghcache_cache_errors_total",
			Help: "Total number of response cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
