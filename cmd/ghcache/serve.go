package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/github-cache/pkg/logging"
	"github.com/Sternrassler/github-cache/pkg/scheduler"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the caching proxy and run the background refreshes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := connect(ctx, opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a)
		},
	}
}

// serve runs the HTTP server and the scheduler until ctx is cancelled,
// then shuts the server down within the configured timeout.
func serve(ctx context.Context, a *app) error {
	runner, err := scheduler.NewRunner(logging.NewLogger(logging.ComponentScheduler), a.tasks()...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(ctx)
	})
	g.Go(func() error {
		a.logger.Info().
			Str("addr", srv.Addr).
			Str("hostname", a.hostname).
			Int("cached_paths", len(a.proxy.Paths())).
			Bool("views", a.views != nil).
			Msg("Starting github-cache")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout())
		defer cancel()

		a.logger.Info().Msg("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
