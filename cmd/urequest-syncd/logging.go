package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler

	// Parse level
	var logLevel slog.Level
	switch strings.ToLower(level) {
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
		Level:     logLevel,
		AddSource: level == "debug",
	}

	// Create handler based on format
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}

// slogAdapter bridges the per-package Logger interfaces onto slog so
// component logs carry the daemon's structured fields.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Printf(format string, v ...any) {
	a.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (a *slogAdapter) Errorf(format string, v ...any) {
	a.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (a *slogAdapter) Debugf(format string, v ...any) {
	a.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
