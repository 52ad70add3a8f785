package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-cache/pkg/cache"
	"github.com/Sternrassler/github-cache/pkg/config"
	"github.com/Sternrassler/github-cache/pkg/keyspace"
	"github.com/Sternrassler/github-cache/pkg/lock"
	"github.com/Sternrassler/github-cache/pkg/logging"
	"github.com/Sternrassler/github-cache/pkg/origin"
	"github.com/Sternrassler/github-cache/pkg/proxy"
	"github.com/Sternrassler/github-cache/pkg/ratelimit"
	"github.com/Sternrassler/github-cache/pkg/scheduler"
	"github.com/Sternrassler/github-cache/pkg/view"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      config.Config
	redis    redis.UniversalClient
	proxy    *proxy.Cache
	views    *view.Engine // nil when views are disabled
	hostname string
	logger   zerolog.Logger
}

// connect opens the Redis client described by cfg and wires the app on it.
func connect(ctx context.Context, cfg config.Config) (*app, error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	a, err := newApp(cfg, client)
	if err != nil {
		client.Close()
		return nil, err
	}
	return a, nil
}

// newApp wires every component on an existing Redis client.
func newApp(cfg config.Config, client redis.UniversalClient) (*app, error) {
	keys := keyspace.New(cfg.Cache.Root)

	tracker := ratelimit.NewTracker(client, keys, cfg.RateLimitConfig(), logging.NewLogger(logging.ComponentRateLimit))

	fetcher, err := origin.New(cfg.OriginConfig(),
		origin.WithRateLimiter(tracker),
		origin.WithLogger(logging.NewLogger(logging.ComponentOrigin)),
	)
	if err != nil {
		return nil, fmt.Errorf("create origin fetcher: %w", err)
	}

	store := cache.NewManager(client, keys,
		cache.WithMaxValueBytes(cfg.Cache.MaxValueBytes),
		cache.WithLogger(logging.NewLogger(logging.ComponentCache)),
	)

	a := &app{
		cfg:      cfg,
		redis:    client,
		proxy:    proxy.New(fetcher, store, cfg.ProxyConfig(), logging.NewLogger(logging.ComponentProxy)),
		hostname: cfg.Server.Hostname,
		logger:   logging.NewLogger(logging.ComponentServer),
	}

	if cfg.ViewsEnabled() {
		locker := lock.NewCoordinator(client, keys, cfg.LockTTL(), logging.NewLogger(logging.ComponentLock))
		viewLogger := logging.NewLogger(logging.ComponentView)
		a.views = view.NewEngine(a.proxy, locker, view.NewStore(client, keys, viewLogger), cfg.ViewConfig(), viewLogger)
	}

	if a.hostname == "" {
		if h, err := os.Hostname(); err == nil {
			a.hostname = h
		}
	}

	return a, nil
}

// tasks returns the periodic work of a serving instance.
func (a *app) tasks() []scheduler.Task {
	tasks := []scheduler.Task{{
		Name:       "cache-rebuild",
		Interval:   a.cfg.CacheRefreshInterval(),
		RunOnStart: true,
		Run:        a.proxy.Rebuild,
	}}
	if a.views != nil {
		tasks = append(tasks, scheduler.Task{
			Name:       "view-refresh",
			Interval:   a.cfg.ViewRefreshInterval(),
			RunOnStart: true,
			Run:        a.views.Refresh,
		})
	}
	return tasks
}

func (a *app) Close() error {
	return a.redis.Close()
}
