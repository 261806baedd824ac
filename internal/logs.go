package internal

import (
	"log/slog"
	"os"
	"strings"
)

// LoggerFromString builds the process logger from a LOG_LEVEL string.
// Unknown values fall back to info.
func LoggerFromString(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
