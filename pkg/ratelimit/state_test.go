package ratelimit

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestState_NeedsCriticalBlock(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name      string
		remaining int
		resetAt   time.Time
		expected  bool
	}{
		{name: "healthy", remaining: 4000, resetAt: testNow.Add(time.Hour), expected: false},
		{name: "at critical threshold", remaining: 10, resetAt: testNow.Add(time.Hour), expected: false},
		{name: "below critical threshold", remaining: 9, resetAt: testNow.Add(time.Hour), expected: true},
		{name: "exhausted", remaining: 0, resetAt: testNow.Add(time.Minute), expected: true},
		{name: "exhausted but window reset", remaining: 0, resetAt: testNow.Add(-time.Second), expected: false},
		{name: "exhausted and reset exactly now", remaining: 0, resetAt: testNow, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{Remaining: tt.remaining, ResetAt: tt.resetAt}
			if got := state.NeedsCriticalBlock(cfg, testNow); got != tt.expected {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_NeedsThrottling(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name      string
		remaining int
		resetAt   time.Time
		expected  bool
	}{
		{name: "healthy", remaining: 500, resetAt: testNow.Add(time.Hour), expected: false},
		{name: "at warning threshold", remaining: 100, resetAt: testNow.Add(time.Hour), expected: false},
		{name: "below warning threshold", remaining: 99, resetAt: testNow.Add(time.Hour), expected: true},
		{name: "critical is not throttling", remaining: 5, resetAt: testNow.Add(time.Hour), expected: false},
		{name: "low but window reset", remaining: 50, resetAt: testNow.Add(-time.Minute), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &State{Remaining: tt.remaining, ResetAt: tt.resetAt}
			if got := state.NeedsThrottling(cfg, testNow); got != tt.expected {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_TimeUntilReset(t *testing.T) {
	state := &State{ResetAt: testNow.Add(90 * time.Second)}
	if got := state.TimeUntilReset(testNow); got != 90*time.Second {
		t.Errorf("TimeUntilReset() = %v, want 90s", got)
	}

	state.ResetAt = testNow.Add(-time.Second)
	if got := state.TimeUntilReset(testNow); got != 0 {
		t.Errorf("TimeUntilReset() after reset = %v, want 0", got)
	}
}
