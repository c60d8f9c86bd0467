// Package logger provides the structured logger used across the gateway
// bridge process.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger to give every component the same construction
// and level/format handling.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "text", "json"
	Output string // "stdout", "file"
	File   string // path to log file, when Output == "file"
}

var globalLogger *Logger

// New creates a new Logger instance.
func New(config Config) *Logger {
	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	writer := os.Stdout
	if config.Output == "file" && config.File != "" {
		if f, err := os.OpenFile(config.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			writer = f
		}
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	l := &Logger{Logger: slog.New(handler)}
	if globalLogger == nil {
		globalLogger = l
	}
	return l
}

// Global returns the process-wide default logger, creating an info/text
// logger to stdout if none has been set yet.
func Global() *Logger {
	if globalLogger == nil {
		return New(Config{Level: "info", Format: "text"})
	}
	return globalLogger
}

// SetGlobal sets the process-wide default logger.
func SetGlobal(l *Logger) {
	globalLogger = l
}
