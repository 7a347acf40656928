// Package logging provides centralized logging for the group mail service.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// contextKey is used for storing loggers in context.
type contextKey struct{}

var loggerKey = contextKey{}

// requestCounter is used to generate unique request IDs.
var requestCounter atomic.Uint64

// NewLogger creates a new slog.Logger with the specified level.
func NewLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}

// ParseLevel maps a configuration level name to a slog.Level.
// Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRequest returns a new logger with request-specific attributes.
// It generates a unique request ID for log correlation.
func WithRequest(logger *slog.Logger, remoteAddr string) *slog.Logger {
	reqID := requestCounter.Add(1)
	return logger.With(
		slog.Uint64("request_id", reqID),
		slog.String("remote_addr", remoteAddr),
	)
}

// WithSender returns a new logger annotated with the acting user and the
// group the mail is sent as.
func WithSender(logger *slog.Logger, user, group string) *slog.Logger {
	return logger.With(
		slog.String("user", user),
		slog.String("group", group),
	)
}

// FromContext retrieves the logger from the context.
// Returns the default logger if none is found.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// NewContext returns a new context with the logger attached.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
