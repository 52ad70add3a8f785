package config

import (
	"encoding/json"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/Sternrassler/github-cache/pkg/view"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GHCACHE_"

// ParseEnv overlays environment variables starting with prefix onto target.
// Fields whose variables are unset keep their current values.
func ParseEnv(target any, prefix string) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// specsEnv holds the raw JSON view specs.
type specsEnv struct {
	SpecsJSON string `env:"VIEW_SPECS"`
}

// applyEnv overlays every section of cfg from the environment.
func applyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{EnvPrefix + "ORIGIN_", &cfg.Origin},
		{EnvPrefix + "REDIS_", &cfg.Redis},
		{EnvPrefix + "CACHE_", &cfg.Cache},
		{EnvPrefix + "VIEWS_", &cfg.Views},
		{EnvPrefix + "RATELIMIT_", &cfg.RateLimit},
		{EnvPrefix + "SERVER_", &cfg.Server},
		{EnvPrefix + "LOG_", &cfg.Log},
	}
	for _, s := range sections {
		if err := ParseEnv(s.target, s.prefix); err != nil {
			return err
		}
	}

	var raw specsEnv
	if err := ParseEnv(&raw, EnvPrefix); err != nil {
		return err
	}
	if raw.SpecsJSON != "" {
		var specs []view.Spec
		if err := json.Unmarshal([]byte(raw.SpecsJSON), &specs); err != nil {
			return fmt.Errorf("parse %sVIEW_SPECS: %w", EnvPrefix, err)
		}
		cfg.ViewSpecs = specs
	}
	return nil
}
