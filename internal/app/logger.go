package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger. Deployed configs ship JSON
// lines; anything else gets the text handler for readable local runs.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
