// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used for the "component" field.
const (
	ComponentServer    = "server"
	ComponentOrigin    = "origin"
	ComponentCache     = "cache"
	ComponentProxy     = "proxy"
	ComponentLock      = "lock"
	ComponentView      = "view"
	ComponentRateLimit = "ratelimit"
	ComponentScheduler = "scheduler"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name. "warning" is accepted for LevelWarn.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", level)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, path, TTL)
//   - Origin fetches (pages followed, freshness)
//   - Lock acquisition and release, skipped view refreshes
//
// Info: Normal operation events
//   - Server startup/shutdown
//   - Completed cache rebuilds and view refreshes
//   - Scheduled task registration
//
// Warn: Warning conditions that don't prevent operation
//   - Rate limit throttling and blocks
//   - Retry attempts and exhaustion
//   - Cache errors (fallback to the origin), failed cache writes
//
// Error: Error conditions requiring attention
//   - Origin unavailable
//   - Aborted view refreshes
//   - Configuration errors
//
// Context Fields:
//   - component: emitting component (see Component constants)
//   - path: request path
//   - url: absolute origin URL
//   - status: HTTP status code
//   - pages: number of pages followed
//   - records: number of view records
//   - token: lock session token
//   - error_class: error classification (client, server, rate_limit, network)
//   - remaining: origin requests remaining in the rate limit window
//   - ttl: cache entry TTL
