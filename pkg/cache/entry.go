package cache

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Header is a single response header. Headers are kept as an ordered list
// rather than a map so a cached response replays them in a stable order.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Status is the origin status line.
type Status struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// CachedResponse represents an origin response as stored in the cache.
type CachedResponse struct {
	// Headers are the origin headers minus Transfer-Encoding and Link
	Headers []Header `json:"headers"`

	// Status is the status of the first page
	Status Status `json:"status"`

	// Content is the (possibly merged) body; gzip compressed when Compressed is set
	Content []byte `json:"content"`

	// Compressed reports whether Content is gzip compressed
	Compressed bool `json:"compressed"`

	// ValidUntil is when the entry becomes stale. It is recomputed on every
	// remote fetch and never touched by cache reads.
	ValidUntil time.Time `json:"valid_until"`
}

// ExpiredAt returns true if the entry is stale at instant now.
func (r *CachedResponse) ExpiredAt(now time.Time) bool {
	return now.After(r.ValidUntil)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (r *CachedResponse) TTL() time.Duration {
	return r.TTLAt(time.Now())
}

// TTLAt returns the time left until expiration as seen at instant now.
func (r *CachedResponse) TTLAt(now time.Time) time.Duration {
	ttl := r.ValidUntil.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Header returns the value of the first header matching name, case-insensitively.
func (r *CachedResponse) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HTTPHeader converts the ordered header list into an http.Header.
func (r *CachedResponse) HTTPHeader() http.Header {
	out := make(http.Header, len(r.Headers))
	for _, h := range r.Headers {
		out.Add(h.Name, h.Value)
	}
	return out
}

// Clone returns a deep copy of the response.
func (r *CachedResponse) Clone() *CachedResponse {
	out := *r
	out.Headers = append([]Header(nil), r.Headers...)
	out.Content = append([]byte(nil), r.Content...)
	return &out
}

// Compress returns a copy of the response with gzip-compressed content.
// Already compressed responses are returned as a plain copy.
func (r *CachedResponse) Compress() (*CachedResponse, error) {
	out := r.Clone()
	if r.Compressed {
		return out, nil
	}
	data, err := Compress(r.Content)
	if err != nil {
		return nil, fmt.Errorf("compress content: %w", err)
	}
	out.Content = data
	out.Compressed = true
	return out, nil
}

// Decompressed returns a copy of the response with plain content. The
// receiver is left untouched so the compressed form is what gets persisted.
func (r *CachedResponse) Decompressed() (*CachedResponse, error) {
	out := r.Clone()
	if !r.Compressed {
		return out, nil
	}
	data, err := Decompress(r.Content)
	if err != nil {
		return nil, fmt.Errorf("decompress content: %w", err)
	}
	out.Content = data
	out.Compressed = false
	return out, nil
}
