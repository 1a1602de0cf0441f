package app

import (
	"log/slog"
	"os"
)

// NewLogger picks handler + level from the environment:
// prod gets JSON at INFO, everything else text at DEBUG
func NewLogger(env string) *slog.Logger {
	if env == "prod" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
