package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/github-cache/pkg/keyspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	remainingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghcache_ratelimit_remaining",
		Help: "Origin requests remaining in the current rate limit window",
	})

	blocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghcache_ratelimit_blocks_total",
		Help: "Total number of origin requests blocked due to an exhausted budget",
	})

	throttlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ghcache_ratelimit_throttles_total",
		Help: "Total number of origin requests throttled due to a low budget",
	})
)

// Tracker monitors the origin's rate limit and gates requests.
type Tracker struct {
	redis  redis.UniversalClient
	key    string
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a new rate limit tracker storing its state under keys.RateLimit().
func NewTracker(client redis.UniversalClient, keys keyspace.Keyspace, config Config, logger zerolog.Logger) *Tracker {
	def := DefaultConfig()
	if config.CriticalThreshold <= 0 {
		config.CriticalThreshold = def.CriticalThreshold
	}
	if config.WarningThreshold <= 0 {
		config.WarningThreshold = def.WarningThreshold
	}
	if config.ThrottleDelay < 0 {
		config.ThrottleDelay = 0
	}

	return &Tracker{
		redis:  client,
		key:    keys.RateLimit(),
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	values, err := t.redis.HGetAll(ctx, t.key).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	now := t.now()
	if len(values) == 0 {
		return &State{
			Limit:      DefaultLimit,
			Remaining:  DefaultLimit,
			ResetAt:    now,
			LastUpdate: now,
		}, nil
	}

	state := &State{}
	if state.Limit, err = strconv.Atoi(values[fieldLimit]); err != nil {
		state.Limit = DefaultLimit
	}
	if state.Remaining, err = strconv.Atoi(values[fieldRemaining]); err != nil {
		return nil, fmt.Errorf("parse remaining %q: %w", values[fieldRemaining], err)
	}
	reset, err := strconv.ParseInt(values[fieldReset], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse reset %q: %w", values[fieldReset], err)
	}
	state.ResetAt = time.Unix(reset, 0)
	if ms, err := strconv.ParseInt(values[fieldLastUpdate], 10, 64); err == nil {
		state.LastUpdate = time.UnixMilli(ms)
	}

	return state, nil
}

// UpdateFromHeaders parses the origin's rate limit headers and updates the shared state.
// Responses without the headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	limit := DefaultLimit
	if v := headers.Get(HeaderLimit); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
	}

	now := t.now()
	state := &State{
		Limit:      limit,
		Remaining:  remain,
		ResetAt:    time.Unix(reset, 0),
		LastUpdate: now,
	}

	err = t.redis.HSet(ctx, t.key,
		fieldLimit, limit,
		fieldRemaining, remain,
		fieldReset, reset,
		fieldLastUpdate, now.UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	remainingGauge.Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock(t.config, now):
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Origin rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling(t.config, now):
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Origin rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Origin rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on the current state.
// Returns false if the budget is critically low and the window has not reset yet.
// Returns true but sleeps ThrottleDelay first if the budget is low.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, err
	}

	now := t.now()

	if state.NeedsCriticalBlock(t.config, now) {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset(now)).
			Msg("Origin rate limit critical - blocking request")

		blocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling(t.config, now) && t.config.ThrottleDelay > 0 {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Dur("delay", t.config.ThrottleDelay).
			Msg("Origin rate limit low - throttling request")

		throttlesTotal.Inc()

		timer := time.NewTimer(t.config.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
