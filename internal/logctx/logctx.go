// Package logctx carries a zerolog logger through context.Context so that
// per-run and per-day fields (run_id, day) follow a reconciliation down the
// call stack without threading a logger argument through every function.
//
//	ctx = logctx.WithRunID(ctx, runID)
//	ctx = logctx.WithDay(ctx, day)
//	logctx.FromContext(ctx).Info().Msg("fetching")
package logctx

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/shab-cache/pkg/logging"
)

type loggerKey struct{}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext extracts the logger from the context. Without one it falls
// back to the process logger from pkg/logging, so it never returns a
// zero-value logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
			return logger
		}
	}
	return *logging.L()
}

// WithStr returns a context whose logger has the string field added.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := FromContext(ctx).With().Str(key, value).Logger()
	return WithLogger(ctx, logger)
}

// WithRunID tags the context logger with a reconciliation run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return WithStr(ctx, "run_id", runID)
}

// WithDay tags the context logger with a calendar day (YYYY-MM-DD).
func WithDay(ctx context.Context, day time.Time) context.Context {
	return WithStr(ctx, "day", day.Format("2006-01-02"))
}

// WithPhase tags the context logger with a pipeline phase.
func WithPhase(ctx context.Context, phase string) context.Context {
	return WithStr(ctx, "phase", phase)
}
