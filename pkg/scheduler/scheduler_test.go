package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunner_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }

	tests := []struct {
		name        string
		task        Task
		expectError bool
	}{
		{name: "valid", task: Task{Name: "ok", Interval: time.Second, Run: noop}},
		{name: "zero interval", task: Task{Name: "zero", Run: noop}, expectError: true},
		{name: "negative interval", task: Task{Name: "neg", Interval: -time.Second, Run: noop}, expectError: true},
		{name: "nil run", task: Task{Name: "nil", Interval: time.Second}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(zerolog.Nop(), tt.task)
			if (err != nil) != tt.expectError {
				t.Errorf("NewRunner() error = %v, expectError %v", err, tt.expectError)
			}
		})
	}
}

func TestRunner_RunsTasksPeriodically(t *testing.T) {
	var fast, slow atomic.Int32

	r, err := NewRunner(zerolog.Nop(),
		Task{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		Task{Name: "slow", Interval: time.Hour, RunOnStart: true, Run: func(context.Context) error {
			slow.Add(1)
			return nil
		}},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return fast.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return slow.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, int32(1), slow.Load(), "RunOnStart runs once before the first interval")
}

func TestRunner_FailuresDoNotStopLoop(t *testing.T) {
	var calls atomic.Int32

	r, err := NewRunner(zerolog.Nop(), Task{Name: "flaky", Interval: 2 * time.Millisecond, Run: func(context.Context) error {
		n := calls.Add(1)
		switch n {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		}
		return nil
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 2*time.Millisecond)
}

func TestRunner_CancelStopsInFlightTask(t *testing.T) {
	started := make(chan struct{})

	r, err := NewRunner(zerolog.Nop(), Task{Name: "blocking", Interval: time.Hour, RunOnStart: true, Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunner_NoTasks(t *testing.T) {
	r, err := NewRunner(zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, r.Run(context.Background()))
}
