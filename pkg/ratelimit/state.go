// Package ratelimit tracks the origin's request budget and gates outbound
// requests. It reads the X-RateLimit-Remaining and X-RateLimit-Reset headers
// of every origin response and shares the resulting state across all proxy
// instances through Redis, so that one instance exhausting the budget stops
// the whole fleet from hammering the origin until the window resets.
package ratelimit

import (
	"time"
)

// Header names sent by the origin.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Hash fields of the shared state.
const (
	fieldLimit      = "limit"
	fieldRemaining  = "remaining"
	fieldReset      = "reset"
	fieldLastUpdate = "last_update"
)

// DefaultLimit is assumed until the origin has reported a real budget.
const DefaultLimit = 5000

// Config holds the gating thresholds.
type Config struct {
	// CriticalThreshold blocks requests while fewer requests remain.
	CriticalThreshold int

	// WarningThreshold throttles requests while fewer requests remain.
	WarningThreshold int

	// ThrottleDelay is slept before each throttled request.
	ThrottleDelay time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalThreshold: 10,
		WarningThreshold:  100,
		ThrottleDelay:     1 * time.Second,
	}
}

// State is the origin's request budget as last reported.
// It is shared across all proxy instances via Redis.
type State struct {
	// Limit is the size of the budget per window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets and Remaining goes back to Limit.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// InWindow reports whether the reported window is still running at now.
// Once the window has reset the remaining count no longer applies.
func (s *State) InWindow(now time.Time) bool {
	return now.Before(s.ResetAt)
}

// NeedsCriticalBlock returns true if requests must not reach the origin at now.
func (s *State) NeedsCriticalBlock(cfg Config, now time.Time) bool {
	return s.InWindow(now) && s.Remaining < cfg.CriticalThreshold
}

// NeedsThrottling returns true if requests should be slowed down at now.
func (s *State) NeedsThrottling(cfg Config, now time.Time) bool {
	return s.InWindow(now) && s.Remaining < cfg.WarningThreshold && !s.NeedsCriticalBlock(cfg, now)
}

// TimeUntilReset returns the time left in the window, or 0 once it has reset.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	if d := s.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
