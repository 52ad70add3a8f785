// Package config loads github-cache settings from defaults, an optional YAML
// file and GHCACHE_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/github-cache/pkg/keyspace"
	"github.com/Sternrassler/github-cache/pkg/logging"
	"github.com/Sternrassler/github-cache/pkg/origin"
	"github.com/Sternrassler/github-cache/pkg/proxy"
	"github.com/Sternrassler/github-cache/pkg/ratelimit"
	"github.com/Sternrassler/github-cache/pkg/view"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete service configuration.
type Config struct {
	Origin    OriginConfig    `yaml:"origin"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Views     ViewsConfig     `yaml:"views"`
	ViewSpecs []view.Spec     `yaml:"view_specs"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// OriginConfig configures the upstream API.
type OriginConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// Credentials is "user:token"; empty disables basic auth.
	Credentials string `yaml:"credentials" env:"CREDENTIALS"`

	// CacheMinutes is the validity applied when Cache-Control is ignored or absent.
	CacheMinutes int `yaml:"cache_minutes" env:"CACHE_MINUTES"`

	RespectCacheControl bool   `yaml:"respect_cache_control" env:"RESPECT_CACHE_CONTROL"`
	TimeoutSeconds      int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	MaxPages            int    `yaml:"max_pages" env:"MAX_PAGES"`
	RetryAttempts       int    `yaml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	UserAgent           string `yaml:"user_agent" env:"USER_AGENT"`
}

// RedisConfig configures the shared store.
type RedisConfig struct {
	URL string `yaml:"url" env:"URL"`
}

// CacheConfig configures the response cache and proxy.
type CacheConfig struct {
	// Root prefixes every key.
	Root string `yaml:"root" env:"ROOT"`

	// AllowList holds the paths that are cached and rebuilt.
	AllowList []string `yaml:"allow_list" env:"ALLOW_LIST" envSeparator:","`

	RefreshMinutes int `yaml:"refresh_minutes" env:"REFRESH_MINUTES"`
	MaxValueBytes  int `yaml:"max_value_bytes" env:"MAX_VALUE_BYTES"`

	// MemoSeconds enables the in-process layer in front of Redis when > 0.
	MemoSeconds int `yaml:"memo_seconds" env:"MEMO_SECONDS"`
	MemoSize    int `yaml:"memo_size" env:"MEMO_SIZE"`
}

// ViewsConfig configures the ranked views.
type ViewsConfig struct {
	// RootPath is the listing the views are computed from; empty disables views.
	RootPath       string `yaml:"root_path" env:"ROOT_PATH"`
	IdentityField  string `yaml:"identity_field" env:"IDENTITY_FIELD"`
	RefreshMinutes int    `yaml:"refresh_minutes" env:"REFRESH_MINUTES"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds" env:"LOCK_TTL_SECONDS"`
	MemoSeconds    int    `yaml:"memo_seconds" env:"MEMO_SECONDS"`
}

// RateLimitConfig configures origin budget tracking.
type RateLimitConfig struct {
	CriticalThreshold int `yaml:"critical_threshold" env:"CRITICAL_THRESHOLD"`
	WarningThreshold  int `yaml:"warning_threshold" env:"WARNING_THRESHOLD"`
	ThrottleMillis    int `yaml:"throttle_millis" env:"THROTTLE_MILLIS"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string `yaml:"addr" env:"ADDR"`
	ShutdownSeconds int    `yaml:"shutdown_seconds" env:"SHUTDOWN_SECONDS"`

	// Hostname is sent as X-Forwarded-Host; defaults to os.Hostname().
	Hostname string `yaml:"hostname" env:"HOSTNAME"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Origin: OriginConfig{
			BaseURL:        "https://api.github.com",
			CacheMinutes:   10,
			TimeoutSeconds: 30,
			MaxPages:       1000,
			RetryAttempts:  3,
			UserAgent:      "github-cache",
		},
		Redis: RedisConfig{URL: "redis://localhost:6379/0"},
		Cache: CacheConfig{
			Root:           "github-cache",
			RefreshMinutes: 9,
			MaxValueBytes:  512 * 1024,
			MemoSize:       1024,
		},
		Views: ViewsConfig{
			IdentityField:  view.DefaultIdentityField,
			RefreshMinutes: 15,
			LockTTLSeconds: 120,
		},
		RateLimit: RateLimitConfig{
			CriticalThreshold: 10,
			WarningThreshold:  100,
			ThrottleMillis:    1000,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownSeconds: 10,
		},
		Log: LogConfig{Level: string(logging.LevelInfo)},
	}
}

// Load builds the configuration from Default, the YAML file at path (when
// non-empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	for i := range cfg.ViewSpecs {
		if cfg.ViewSpecs[i].Converter == "" {
			cfg.ViewSpecs[i].Converter = view.ConverterNumber
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting joined into one error.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if u, err := url.Parse(c.Origin.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		invalid("origin.base_url %q must be an absolute http(s) URL", c.Origin.BaseURL)
	}
	if c.Origin.CacheMinutes < 0 {
		invalid("origin.cache_minutes must not be negative")
	}
	if c.Origin.TimeoutSeconds <= 0 {
		invalid("origin.timeout_seconds must be positive")
	}
	if c.Origin.MaxPages <= 0 {
		invalid("origin.max_pages must be positive")
	}
	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		invalid("redis.url: %v", err)
	}
	if c.Cache.Root == "" {
		invalid("cache.root must not be empty")
	}
	for _, path := range c.Cache.AllowList {
		if keyspace.Reserved(path) {
			invalid("cache.allow_list entry %q collides with an internal key", path)
		}
	}
	if c.Cache.RefreshMinutes <= 0 {
		invalid("cache.refresh_minutes must be positive")
	}
	if c.Cache.MemoSeconds < 0 || c.Views.MemoSeconds < 0 {
		invalid("memo_seconds must not be negative")
	}
	if c.Views.RootPath != "" {
		if c.Views.RefreshMinutes <= 0 {
			invalid("views.refresh_minutes must be positive")
		}
		if c.Views.LockTTLSeconds <= 0 {
			invalid("views.lock_ttl_seconds must be positive")
		}
		if len(c.ViewSpecs) == 0 {
			invalid("view_specs must not be empty when views.root_path is set")
		}
	}
	seen := make(map[string]bool, len(c.ViewSpecs))
	for _, s := range c.ViewSpecs {
		if s.Field == "" {
			invalid("view spec without field")
			continue
		}
		if seen[s.Name()] {
			invalid("duplicate view %q", s.Name())
		}
		seen[s.Name()] = true
	}
	if c.RateLimit.CriticalThreshold < 0 || c.RateLimit.WarningThreshold < c.RateLimit.CriticalThreshold {
		invalid("rate_limit thresholds must satisfy 0 <= critical <= warning")
	}
	if c.Server.Addr == "" {
		invalid("server.addr must not be empty")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		invalid("log.level: %v", err)
	}

	return errors.Join(errs...)
}

// ViewsEnabled reports whether a views root path is configured.
func (c Config) ViewsEnabled() bool {
	return c.Views.RootPath != ""
}

// OriginConfig returns the fetcher configuration.
func (c Config) OriginConfig() origin.Config {
	cfg := origin.DefaultConfig(c.Origin.BaseURL)
	cfg.Credentials = c.Origin.Credentials
	cfg.DefaultTTL = minutes(c.Origin.CacheMinutes)
	cfg.RespectCacheControl = c.Origin.RespectCacheControl
	cfg.Timeout = seconds(c.Origin.TimeoutSeconds)
	if c.Origin.UserAgent != "" {
		cfg.UserAgent = c.Origin.UserAgent
	}
	if c.Origin.RetryAttempts > 0 {
		cfg.Retry.MaxAttempts = c.Origin.RetryAttempts
	}
	cfg.Pagination.MaxPages = c.Origin.MaxPages
	return cfg
}

// RedisOptions parses the Redis URL.
func (c Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}

// ProxyConfig returns the proxy configuration.
func (c Config) ProxyConfig() proxy.Config {
	return proxy.Config{
		AllowList: c.Cache.AllowList,
		MemoTTL:   seconds(c.Cache.MemoSeconds),
		MemoSize:  c.Cache.MemoSize,
	}
}

// ViewConfig returns the view engine configuration.
func (c Config) ViewConfig() view.Config {
	return view.Config{
		RootPath:      c.Views.RootPath,
		IdentityField: c.Views.IdentityField,
		Specs:         c.ViewSpecs,
		MemoTTL:       seconds(c.Views.MemoSeconds),
	}
}

// RateLimitConfig returns the tracker configuration.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		CriticalThreshold: c.RateLimit.CriticalThreshold,
		WarningThreshold:  c.RateLimit.WarningThreshold,
		ThrottleDelay:     time.Duration(c.RateLimit.ThrottleMillis) * time.Millisecond,
	}
}

// LockTTL returns the view lock TTL.
func (c Config) LockTTL() time.Duration { return seconds(c.Views.LockTTLSeconds) }

// CacheRefreshInterval returns the rebuild period.
func (c Config) CacheRefreshInterval() time.Duration { return minutes(c.Cache.RefreshMinutes) }

// ViewRefreshInterval returns the view refresh period.
func (c Config) ViewRefreshInterval() time.Duration { return minutes(c.Views.RefreshMinutes) }

// ShutdownTimeout returns the graceful shutdown budget.
func (c Config) ShutdownTimeout() time.Duration { return seconds(c.Server.ShutdownSeconds) }

// LoggingConfig returns the logger configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level, _ = logging.ParseLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
