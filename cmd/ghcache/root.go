package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/github-cache/pkg/config"
	"github.com/Sternrassler/github-cache/pkg/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ghcache",
		Short: "Caching proxy for the GitHub API",
		Long: `ghcache serves GitHub API responses from a shared Redis cache.
Allow-listed paths are kept fresh in the background and ranked views over a
repository listing are recomputed periodically by one instance at a time.`,
		Example:       "ghcache serve --config ghcache.yml",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides configuration")

	cmd.AddCommand(
		newServeCmd(opts),
		newRebuildCmd(opts),
		newRefreshViewsCmd(opts),
		newTopCmd(opts),
	)

	return cmd
}

// load reads the configuration and sets up the global logger.
func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		if _, err := logging.ParseLevel(o.logLevel); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		cfg.Log.Level = o.logLevel
	}

	logging.Setup(cfg.LoggingConfig())
	o.cfg = cfg
	return nil
}
