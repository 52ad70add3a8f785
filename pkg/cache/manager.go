package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/github-cache/pkg/keyspace"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested path was never cached
	ErrCacheMiss = errors.New("cache miss")

	// ErrStale indicates the cached entry had expired and was evicted
	ErrStale = errors.New("cache entry stale")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrValueTooLarge indicates the serialized entry exceeds the store's value limit
	ErrValueTooLarge = errors.New("cache value too large")
)

// DefaultMaxValueBytes mirrors the 512 KiB value limit of common KV stores.
const DefaultMaxValueBytes = 512 * 1024

// Manager stores and fetches cached responses in Redis.
type Manager struct {
	redis         redis.UniversalClient
	keys          keyspace.Keyspace
	maxValueBytes int
	logger        zerolog.Logger
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxValueBytes overrides the maximum serialized entry size. Zero or
// negative disables the check.
func WithMaxValueBytes(n int) Option {
	return func(m *Manager) { m.maxValueBytes = n }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient redis.UniversalClient, keys keyspace.Keyspace, opts ...Option) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}

	m := &Manager{
		redis:         redisClient,
		keys:          keys,
		maxValueBytes: DefaultMaxValueBytes,
		logger:        zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get retrieves the cached response for path.
// Returns ErrCacheMiss if nothing is stored and ErrStale if the stored entry
// had expired; in that case the entry is deleted on a best-effort basis.
func (m *Manager) Get(ctx context.Context, path string) (*CachedResponse, error) {
	key := m.keys.Response(path)

	data, err := m.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CachedResponse
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.ExpiredAt(m.now()) {
		if err := m.Delete(ctx, path); err != nil {
			// the value is never served once stale, so a failed eviction is harmless
			m.logger.Warn().Err(err).Str("path", path).Msg("Couldn't evict stale entry")
		}
		CacheStale.Inc()
		return nil, ErrStale
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set unconditionally overwrites the entry for path and returns it for
// chaining. The Redis key expires together with the entry; entries that are
// already expired are not written.
func (m *Manager) Set(ctx context.Context, path string, entry *CachedResponse) (*CachedResponse, error) {
	if entry == nil {
		return nil, fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTLAt(m.now())
	if ttl <= 0 {
		return entry, nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return entry, fmt.Errorf("marshal cache entry: %w", err)
	}

	if m.maxValueBytes > 0 && len(data) > m.maxValueBytes {
		CacheErrors.WithLabelValues("set").Inc()
		return entry, fmt.Errorf("%w: %d bytes (max %d)", ErrValueTooLarge, len(data), m.maxValueBytes)
	}

	if err := m.redis.Set(ctx, m.keys.Response(path), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return entry, fmt.Errorf("redis set: %w", err)
	}

	StoredBytes.Add(float64(len(data)))
	m.logger.Debug().
		Str("path", path).
		Dur("ttl", ttl).
		Int("bytes", len(data)).
		Msg("Cached response")

	return entry, nil
}

// Delete removes the entry for path.
func (m *Manager) Delete(ctx context.Context, path string) error {
	if err := m.redis.Del(ctx, m.keys.Response(path)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
