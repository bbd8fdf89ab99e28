package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"HydrophoneStreamer/internal/config"
)

// New creates a console slog.Logger with provided level string.
func New(level string) *slog.Logger {
	return NewFromConfig(config.LoggingConfig{Level: level, Format: "text"})
}

// NewFromConfig builds the process logger. When a file is configured the
// records are duplicated into a rotated JSON log next to the console output.
func NewFromConfig(cfg config.LoggingConfig) *slog.Logger {
	lvl := levelFromString(cfg.Level)
	console := consoleHandler(os.Stdout, cfg.Format, lvl)
	if cfg.File == "" {
		return slog.New(console)
	}

	file := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	}, &slog.HandlerOptions{Level: lvl})

	return slog.New(fanout{console, file})
}

func consoleHandler(w io.Writer, format string, lvl slog.Level) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "text":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	default:
		return tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.DateTime})
	}
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
