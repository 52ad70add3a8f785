// Package scheduler runs periodic background tasks until cancelled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for task runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghcache_scheduler_runs_total",
		Help: "Total task runs by task and result",
	}, []string{"task", "result"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghcache_scheduler_run_duration_seconds",
		Help:    "Task run duration in seconds",
		Buckets: []float64{0.1, 1, 5, 10, 30, 60, 300},
	}, []string{"task"})
)

// Task is a unit of periodic work.
type Task struct {
	Name string

	// Interval between the end of one run and the start of the next
	Interval time.Duration

	// RunOnStart runs the task once immediately instead of after the first interval
	RunOnStart bool

	Run func(ctx context.Context) error
}

// Runner drives a set of tasks, one goroutine each.
type Runner struct {
	tasks  []Task
	logger zerolog.Logger
}

// NewRunner creates a runner. Tasks with a non-positive interval are rejected.
func NewRunner(logger zerolog.Logger, tasks ...Task) (*Runner, error) {
	for _, task := range tasks {
		if task.Interval <= 0 {
			return nil, fmt.Errorf("task %q: interval must be positive (got %s)", task.Name, task.Interval)
		}
		if task.Run == nil {
			return nil, fmt.Errorf("task %q: run function is required", task.Name)
		}
	}
	return &Runner{tasks: tasks, logger: logger}, nil
}

// Run blocks until ctx is cancelled and every task loop has returned.
// Task failures are logged and do not stop the loop. Run returns nil on
// cancellation.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range r.tasks {
		g.Go(func() error {
			r.loop(ctx, task)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) loop(ctx context.Context, task Task) {
	logger := r.logger.With().Str("task", task.Name).Logger()
	logger.Info().Dur("interval", task.Interval).Msg("Task scheduled")

	if task.RunOnStart {
		r.runOnce(ctx, task, logger)
	}

	timer := time.NewTimer(task.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Task stopped")
			return
		case <-timer.C:
			r.runOnce(ctx, task, logger)
			timer.Reset(task.Interval)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, task Task, logger zerolog.Logger) {
	start := time.Now()
	err := safeRun(ctx, task.Run)
	runDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		runsTotal.WithLabelValues(task.Name, "ok").Inc()
		logger.Debug().Dur("duration", time.Since(start)).Msg("Task run complete")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		runsTotal.WithLabelValues(task.Name, "cancelled").Inc()
	default:
		runsTotal.WithLabelValues(task.Name, "failed").Inc()
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Task run failed")
	}
}

// safeRun keeps a panicking task from taking the process down.
func safeRun(ctx context.Context, run func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return run(ctx)
}
