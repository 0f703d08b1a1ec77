package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. LOG_FORMAT "json" selects the JSON
// handler, anything else gets text output. Every record carries the app
// name so the two binaries are distinguishable in shared log streams.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("app", "meridian"))
}
