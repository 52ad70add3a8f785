package view

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/github-cache/pkg/cache"
	"github.com/Sternrassler/github-cache/pkg/lock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for view refreshes.
var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghcache_view_refresh_total",
		Help: "Total view refresh cycles by result (ok, skipped, failed)",
	}, []string{"result"})

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ghcache_view_refresh_duration_seconds",
		Help:    "Duration of view refreshes that held the lock, in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
	})

	snapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ghcache_view_snapshot_records",
		Help: "Number of records in the last snapshot written by this instance",
	})
)

const snapshotMemoKey = "snapshot"

// Source fetches the raw listing. *proxy.Cache implements it.
type Source interface {
	Fetch(ctx context.Context, path string, force bool) (*cache.CachedResponse, error)
}

// Locker serializes refreshes across instances. *lock.Coordinator implements it.
type Locker interface {
	WithLock(ctx context.Context, fn func(ctx context.Context) error) (bool, error)
}

// Config holds the view configuration.
type Config struct {
	// RootPath is the request path of the listing the views are built from
	RootPath string

	// IdentityField names each element; defaults to DefaultIdentityField
	IdentityField string

	Specs []Spec

	// MemoTTL enables an in-process memo of the loaded snapshot. Zero disables it.
	MemoTTL time.Duration
}

// Engine refreshes and queries views.
type Engine struct {
	source Source
	locker Locker
	store  *Store
	config Config
	memo   *expirable.LRU[string, []Record]
	logger zerolog.Logger
}

// NewEngine creates a view engine.
func NewEngine(source Source, locker Locker, store *Store, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.IdentityField == "" {
		cfg.IdentityField = DefaultIdentityField
	}
	e := &Engine{
		source: source,
		locker: locker,
		store:  store,
		config: cfg,
		logger: logger,
	}
	if cfg.MemoTTL > 0 {
		e.memo = expirable.NewLRU[string, []Record](1, nil, cfg.MemoTTL)
	}
	return e
}

// Refresh rebuilds the snapshot if this instance gets the lock. A held lock
// or a failed acquisition skips the cycle and returns nil. Any failure after
// acquisition aborts the cycle without writing and is returned.
func (e *Engine) Refresh(ctx context.Context) error {
	acquired, err := e.locker.WithLock(ctx, e.rebuild)
	if !acquired && errors.Is(err, lock.ErrLockHeld) {
		refreshTotal.WithLabelValues("skipped").Inc()
		e.logger.Debug().Msg("View refresh skipped, lock held elsewhere")
		return nil
	}
	if !acquired {
		refreshTotal.WithLabelValues("failed").Inc()
		e.logger.Warn().Err(err).Msg("View refresh lock could not be acquired")
		return fmt.Errorf("acquire view lock: %w", err)
	}
	if err != nil {
		refreshTotal.WithLabelValues("failed").Inc()
		e.logger.Error().Err(err).Str("path", e.config.RootPath).Msg("View refresh failed")
		return err
	}
	refreshTotal.WithLabelValues("ok").Inc()
	return nil
}

func (e *Engine) rebuild(ctx context.Context) error {
	start := time.Now()
	defer func() {
		refreshDuration.Observe(time.Since(start).Seconds())
	}()

	resp, err := e.source.Fetch(ctx, e.config.RootPath, false)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", e.config.RootPath, err)
	}

	records, err := BuildRecords(resp.Content, e.config.IdentityField, e.config.Specs)
	if err != nil {
		return fmt.Errorf("parse %s: %w", e.config.RootPath, err)
	}

	if err := e.store.Replace(ctx, records); err != nil {
		return err
	}

	if e.memo != nil {
		e.memo.Purge()
	}
	snapshotRecords.Set(float64(len(records)))

	e.logger.Info().
		Str("path", e.config.RootPath).
		Int("records", len(records)).
		Int("views", len(e.config.Specs)).
		Dur("duration", time.Since(start)).
		Msg("View snapshot refreshed")

	return nil
}

// TopN answers "top/{n}/{field}" from the current snapshot.
// Returns ErrNotFound if request has another shape.
func (e *Engine) TopN(ctx context.Context, request string) ([]Entry, error) {
	n, field, err := ParseTopRequest(request)
	if err != nil {
		return nil, err
	}

	records, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	return Rank(records, field, n), nil
}

func (e *Engine) snapshot(ctx context.Context) ([]Record, error) {
	if e.memo != nil {
		if records, ok := e.memo.Get(snapshotMemoKey); ok {
			return records, nil
		}
	}

	records, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	if e.memo != nil {
		e.memo.Add(snapshotMemoKey, records)
	}
	return records, nil
}
