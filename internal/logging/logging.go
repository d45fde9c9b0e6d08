package logging

import (
	"log/slog"
	"os"
)

// Init installs the default logger. The CLI only shows errors unless LOG_LEVEL
// says otherwise.
func Init() {
	InitLevel(slog.LevelError)
}

// InitLevel installs the default logger at def, overridden by LOG_LEVEL.
func InitLevel(def slog.Level) {
	level := def
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if parsed, ok := ParseLevel(l); ok {
			level = parsed
		}
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(l string) (slog.Level, bool) {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error", "production", "prod":
		return slog.LevelError, true
	}
	return 0, false
}
