package pagination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrTooManyPages is returned when a response paginates past Config.MaxPages.
var ErrTooManyPages = errors.New("too many pages")

// Config holds walker configuration.
type Config struct {
	// MaxPages bounds the number of pages followed for one request
	MaxPages int

	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxPages: 1000,
		Timeout:  30 * time.Second,
	}
}

// Page is a single origin response with its body fully read.
type Page struct {
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// PageFetcher fetches a single page by absolute URL.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (*Page, error)
}

// Result is a flattened multi-page response.
type Result struct {
	// First page; its status and headers describe the whole response
	First *Page

	// Last page; freshness is computed from its headers
	Last *Page

	// Body is the merged body of all pages
	Body []byte

	// Pages is the number of pages fetched
	Pages int
}

// Walker follows Link rel="next" headers and merges the pages.
type Walker struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewWalker creates a new walker.
func NewWalker(fetcher PageFetcher, config Config, logger zerolog.Logger) *Walker {
	if config.MaxPages <= 0 {
		config.MaxPages = DefaultConfig().MaxPages
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &Walker{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// FetchAll fetches url and every page linked from it.
// A response without a next link is returned as-is whatever its body; a
// paginated response must consist of JSON arrays only.
func (w *Walker) FetchAll(ctx context.Context, url string) (*Result, error) {
	start := time.Now()

	first, err := w.fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	result := &Result{First: first, Last: first, Body: first.Body, Pages: 1}

	next := NextLink(first.Header)
	if next == "" {
		return result, nil
	}

	if !IsArray(first.Body) {
		return nil, fmt.Errorf("page 1 of %s: %w", url, ErrNotArray)
	}

	for next != "" {
		if result.Pages >= w.config.MaxPages {
			return nil, fmt.Errorf("%w: %s exceeds %d pages", ErrTooManyPages, url, w.config.MaxPages)
		}

		page, err := w.fetch(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", result.Pages+1, err)
		}
		result.Pages++

		body, err := Merge(result.Body, page.Body)
		if err != nil {
			return nil, fmt.Errorf("page %d of %s: %w", result.Pages, url, err)
		}
		result.Body = body
		result.Last = page

		// Progress logging every 50 pages
		if result.Pages%50 == 0 {
			w.logger.Info().
				Str("url", url).
				Int("pages", result.Pages).
				Msg("Pagination progress")
		}

		next = NextLink(page.Header)
	}

	w.logger.Debug().
		Str("url", url).
		Int("pages", result.Pages).
		Int("bytes", len(result.Body)).
		Dur("duration", time.Since(start)).
		Msg("Pagination complete")

	return result, nil
}

func (w *Walker) fetch(ctx context.Context, url string) (*Page, error) {
	pageCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()
	return w.fetcher.FetchPage(pageCtx, url)
}
