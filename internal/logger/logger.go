// Package logger provides structured logging setup using slog.
package logger

import (
	"context"
	"log/slog"
	"os"
)

// experimentIDKey is the context key for experiment correlation IDs.
type experimentIDKey struct{}

// New creates a new structured JSON logger.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// WithExperimentID returns a new context carrying the given experiment ID.
func WithExperimentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, experimentIDKey{}, id)
}

// ExperimentIDFromContext extracts the experiment ID from the context.
func ExperimentIDFromContext(ctx context.Context) string {
	if v := ctx.Value(experimentIDKey{}); v != nil {
		return v.(string)
	}
	return ""
}

// FromContext returns a logger with context fields (experiment ID) attached.
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if id := ExperimentIDFromContext(ctx); id != "" {
		return base.With("experiment_id", id)
	}
	return base
}
