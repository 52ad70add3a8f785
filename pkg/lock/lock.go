// Package lock provides cross-instance mutual exclusion on Redis.
//
// Acquisition creates a session key with a TTL and then conditionally writes
// the shared lock key (SET NX) with the session id as value. Only the instance
// whose conditional write succeeded owns the lock. There is no heartbeat: a
// holder that crashes loses the lock when the TTL runs out.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/github-cache/pkg/keyspace"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultTTL bounds how long a crashed holder can block other instances.
const DefaultTTL = 120 * time.Second

// releaseTimeout bounds the best-effort release.
const releaseTimeout = 5 * time.Second

// ErrLockHeld is returned when another session owns the lock.
var ErrLockHeld = errors.New("lock held by another session")

// Prometheus metrics for lock operations.
var (
	acquiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghcache_lock_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})

	contendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghcache_lock_contended_total",
		Help: "Total number of acquisitions that found the lock held",
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghcache_lock_errors_total",
		Help: "Total number of lock errors by operation",
	}, []string{"operation"})
)

// releaseScript deletes the lock only while it still belongs to the session.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Token identifies one lock session.
type Token string

// Coordinator acquires and releases the shared lock.
type Coordinator struct {
	redis  redis.UniversalClient
	keys   keyspace.Keyspace
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCoordinator creates a coordinator. A non-positive ttl selects DefaultTTL.
func NewCoordinator(client redis.UniversalClient, keys keyspace.Keyspace, ttl time.Duration, logger zerolog.Logger) *Coordinator {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		redis:  client,
		keys:   keys,
		ttl:    ttl,
		logger: logger,
	}
}

// TTL returns the session and lock lifetime.
func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// Acquire opens a session and tries to take the lock for it.
// Returns ErrLockHeld if another session owns the lock.
func (c *Coordinator) Acquire(ctx context.Context) (Token, error) {
	id := uuid.NewString()
	sessionKey := c.keys.Session(id)

	if err := c.redis.Set(ctx, sessionKey, time.Now().Unix(), c.ttl).Err(); err != nil {
		errorsTotal.WithLabelValues("session").Inc()
		return "", fmt.Errorf("create session: %w", err)
	}

	ok, err := c.redis.SetNX(ctx, c.keys.Lock(), id, c.ttl).Result()
	if err != nil || !ok {
		c.destroySession(ctx, sessionKey)
	}
	if err != nil {
		errorsTotal.WithLabelValues("acquire").Inc()
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		contendedTotal.Inc()
		return "", ErrLockHeld
	}

	acquiredTotal.Inc()
	c.logger.Debug().Str("token", id).Dur("ttl", c.ttl).Msg("Lock acquired")
	return Token(id), nil
}

// Release clears the lock if token still owns it and destroys the session.
// It is best effort: failures are logged, never returned. Release runs even
// when ctx is already cancelled.
func (c *Coordinator) Release(ctx context.Context, token Token) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	released, err := releaseScript.Run(ctx, c.redis, []string{c.keys.Lock()}, string(token)).Int()
	if err != nil {
		errorsTotal.WithLabelValues("release").Inc()
		c.logger.Warn().Err(err).Str("token", string(token)).Msg("Lock release failed")
	} else if released == 0 {
		// Expired and possibly taken over by another session
		c.logger.Warn().Str("token", string(token)).Msg("Lock no longer owned at release")
	}

	c.destroySession(ctx, c.keys.Session(string(token)))
	c.logger.Debug().Str("token", string(token)).Msg("Lock released")
}

// WithLock runs fn while holding the lock. acquired is false when the lock
// could not be taken; err is then the acquisition error and fn did not run.
// The lock is released on every exit path of fn, panics included.
func (c *Coordinator) WithLock(ctx context.Context, fn func(ctx context.Context) error) (acquired bool, err error) {
	token, err := c.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer c.Release(ctx, token)

	return true, fn(ctx)
}

func (c *Coordinator) destroySession(ctx context.Context, sessionKey string) {
	if err := c.redis.Del(context.WithoutCancel(ctx), sessionKey).Err(); err != nil {
		errorsTotal.WithLabelValues("session").Inc()
		c.logger.Warn().Err(err).Str("session", sessionKey).Msg("Destroy session failed")
	}
}
