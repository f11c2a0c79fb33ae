package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"perfwatch/internal/config"
)

// setupLogging configures structured logging based on configuration.
func setupLogging(level, format string, output io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	return slog.New(handler)
}

// setupLoggingWithFile logs to the configured file, or stderr when none is
// set. Snapshots go to stdout, so logs never do.
func setupLoggingWithFile(cfg config.LoggingConfig) *slog.Logger {
	if cfg.File == "" {
		return setupLogging(cfg.Level, cfg.Format, os.Stderr)
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not open log file %s: %v. Logging to stderr.\n", cfg.File, err)
		return setupLogging(cfg.Level, cfg.Format, os.Stderr)
	}

	return setupLogging(cfg.Level, cfg.Format, file)
}
