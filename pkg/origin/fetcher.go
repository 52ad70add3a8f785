// Package origin fetches responses from the upstream API.
//
// A Fetcher turns one request path into one cache.CachedResponse: it follows
// Link rel="next" pagination, merges the JSON array pages, computes the
// freshness deadline from the last page and compresses the body. Transient
// failures are retried with exponential backoff, and the shared rate limit
// state is consulted before and updated after every origin request.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/github-cache/pkg/cache"
	"github.com/Sternrassler/github-cache/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for origin requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghcache_origin_requests_total",
		Help: "Total origin page requests by status",
	}, []string{"status"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ghcache_origin_fetch_duration_seconds",
		Help:    "Duration of complete (all pages) origin fetches in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	pagesPerFetch = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ghcache_origin_pages_per_fetch",
		Help:    "Number of pages followed per origin fetch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghcache_origin_errors_total",
		Help: "Total origin errors by class",
	}, []string{"class"})
)

// RateLimiter gates origin requests on a shared request budget.
// *ratelimit.Tracker implements it.
type RateLimiter interface {
	ShouldAllowRequest(ctx context.Context) (bool, error)
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Config holds the fetcher configuration.
type Config struct {
	// BaseURL of the origin, e.g. https://api.github.com
	BaseURL string

	// Credentials as "user:token", split on the first colon and sent as
	// basic auth. Empty disables authentication.
	Credentials string

	// DefaultTTL is used when max-age is absent or not respected
	DefaultTTL time.Duration

	// RespectCacheControl honors the last page's Cache-Control max-age
	RespectCacheControl bool

	// Timeout of each origin HTTP request
	Timeout time.Duration

	// UserAgent header sent to the origin
	UserAgent string

	Retry      RetryConfig
	Pagination pagination.Config
}

// DefaultConfig returns a safe default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		DefaultTTL: 10 * time.Minute,
		Timeout:    30 * time.Second,
		UserAgent:  "github-cache",
		Retry:      DefaultRetryConfig(),
		Pagination: pagination.DefaultConfig(),
	}
}

// Fetcher retrieves complete responses from the origin.
type Fetcher struct {
	httpClient *http.Client
	config     Config
	user       string
	token      string
	limiter    RateLimiter
	walker     *pagination.Walker
	logger     zerolog.Logger
	now        func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = client }
}

// WithRateLimiter gates every origin request on limiter.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(f *Fetcher) { f.limiter = limiter }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// WithClock sets the time source used for freshness computation.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a new Fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.DefaultTTL < 0 {
		return nil, fmt.Errorf("default ttl must be >= 0 (got %s)", cfg.DefaultTTL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if budget := cfg.Retry.budget(cfg.Timeout); cfg.Pagination.Timeout < budget {
		cfg.Pagination.Timeout = budget
	}

	f := &Fetcher{
		config: cfg,
		logger: log.With().Str("component", "origin").Logger(),
		now:    time.Now,
	}
	f.user, f.token, _ = strings.Cut(cfg.Credentials, ":")

	for _, opt := range opts {
		opt(f)
	}
	if f.httpClient == nil {
		f.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	f.walker = pagination.NewWalker(f, cfg.Pagination, f.logger)

	return f, nil
}

// URL returns the absolute origin URL of a request path.
func (f *Fetcher) URL(path string) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return f.config.BaseURL + path
}

// Fetch retrieves path and every page linked from it and returns the merged,
// compressed response. Any failure to obtain a response wraps ErrUnavailable.
// Error statuses from the origin are not failures: they are returned like any
// other response.
func (f *Fetcher) Fetch(ctx context.Context, path string) (*cache.CachedResponse, error) {
	start := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(start).Seconds())
	}()

	if f.limiter != nil {
		allowed, err := f.limiter.ShouldAllowRequest(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
		case err != nil:
			// Fail open: losing the shared state must not take the proxy down
			f.logger.Warn().Err(err).Str("path", path).Msg("Rate limit check failed")
		case !allowed:
			requestsTotal.WithLabelValues("rate_limited").Inc()
			f.logger.Warn().Str("path", path).Msg("Request blocked by rate limiter")
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, path)
		}
	}

	result, err := f.walker.FetchAll(ctx, f.URL(path))
	if err != nil {
		f.logger.Error().Err(err).Str("path", path).Msg("Origin fetch failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
	}
	pagesPerFetch.Observe(float64(result.Pages))

	now := f.now()
	entry := cache.NewResponse(result.First.StatusCode, result.First.Status, result.First.Header, result.Body)
	entry.ValidUntil = ValidUntil(result.Last.Header, now, f.config.DefaultTTL, f.config.RespectCacheControl)

	compressed, err := entry.Compress()
	if err != nil {
		f.logger.Error().Err(err).Str("path", path).Msg("Compress origin response failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
	}

	f.logger.Debug().
		Str("path", path).
		Int("status", entry.Status.Code).
		Int("pages", result.Pages).
		Dur("ttl", entry.ValidUntil.Sub(now)).
		Msg("Fetched from origin")

	return compressed, nil
}

// FetchPage retrieves a single page. Network errors and 5xx responses are
// retried; when the attempts are exhausted on 5xx the last response is
// returned as-is.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (*pagination.Page, error) {
	var page *pagination.Page

	err := retryWithBackoff(ctx, f.config.Retry, f.logger, func() (ErrorClass, error) {
		p, err := f.attempt(ctx, pageURL)
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues("network_error").Inc()
			return ErrorClassNetwork, err
		}
		page = p
		requestsTotal.WithLabelValues(strconv.Itoa(p.StatusCode)).Inc()

		errClass := ClassifyStatus(p.StatusCode)
		if errClass == "" {
			return "", nil
		}

		errorsTotal.WithLabelValues(string(errClass)).Inc()
		f.logger.Warn().
			Str("url", pageURL).
			Int("status", p.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Origin request error")

		return errClass, &StatusError{
			StatusCode: p.StatusCode,
			ErrorClass: errClass,
			Message:    p.Status,
		}
	})

	var statusErr *StatusError
	switch {
	case err == nil:
		return page, nil
	case errors.As(err, &statusErr) && page != nil:
		// 4xx are final and exhausted 5xx fall back to the last response
		return page, nil
	default:
		return nil, err
	}
}

// attempt bounds a single request by the configured timeout so a slow
// attempt leaves the page budget to the retries.
func (f *Fetcher) attempt(ctx context.Context, pageURL string) (*pagination.Page, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()
	return f.get(attemptCtx, pageURL)
}

func (f *Fetcher) get(ctx context.Context, pageURL string) (*pagination.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}
	if f.config.Credentials != "" {
		req.SetBasicAuth(f.user, f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", pageURL, err)
	}

	if f.limiter != nil {
		if err := f.limiter.UpdateFromHeaders(ctx, resp.Header); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	return &pagination.Page{
		URL:        pageURL,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
