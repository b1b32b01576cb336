package common

import (
	"log/slog"
	"os"
	"strings"

	"github.com/samber/do/v2"
)

func NewLogger(i do.Injector) (*slog.Logger, error) {
	level := do.MustInvokeNamed[string](i, "log-level")

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})), nil
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
