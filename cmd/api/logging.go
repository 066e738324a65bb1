package main

import (
	"log/slog"
	"os"

	"allfixer/config"
)

// setupLogger installs the process-wide logger: text in development, JSON
// everywhere else.
func setupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var handler slog.Handler
	if cfg.IsProduction() {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", appName)
	slog.SetDefault(logger)
	return logger
}
