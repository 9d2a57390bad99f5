// Package config provides configuration loading and parsing for pipefire.
package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// parseLogLevel maps a level name to a slog.Level. An empty name means warn.
func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log level %q is not supported (debug, info, warn, error)", value)
	}
}

// SlogLevel returns the configured log level, warn when it does not parse.
func (c Config) SlogLevel() slog.Level {
	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return slog.LevelWarn
	}
	return level
}
