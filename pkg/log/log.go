// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/robfig/cron/v3"
)

func Setup(logLevel string) {
	SetupWriter(os.Stderr, logLevel, "text")
}

// SetupWriter installs the default logger writing to w. Format is "json" or "text".
func SetupWriter(w io.Writer, logLevel, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func ParseLevel(logLevel string) slog.Level {
	switch logLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}

// Watermill adapts logger for the watermill pub/sub implementations.
func Watermill(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

type cronLogger struct {
	logger *slog.Logger
}

// Cron adapts logger for robfig/cron job wrappers. Routine scheduling chatter goes to debug.
func Cron(logger *slog.Logger) cron.Logger {
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
