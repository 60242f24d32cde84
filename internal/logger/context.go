package logger

import (
	"context"
	"log/slog"
)

// contextKey is private so no other package can collide with it.
type contextKey struct{}

// WithContext returns a copy of ctx carrying logger. Middleware uses it to
// attach the request-scoped logger.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default(). It never
// returns nil.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With derives a child of the context logger with extra attributes and
// stores it back, so later calls share the attributes.
func With(ctx context.Context, args ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(args...))
}
