package logging

import "context"

type contextKey int

const loggerKey contextKey = iota

// WithLoggerCtx returns a new context carrying l.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns the logger carried by ctx, or the global logger.
func FromCtx(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok && l != nil {
		return l
	}
	return Global()
}
