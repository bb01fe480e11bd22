// Package log provides a structured logging interface for scihmm estimators.
//
// The interface is slog-compatible so that the backend can be swapped without
// touching model code. The default backend is zerolog (see zerolog.go); tests
// use the in-memory TestLogger (see testing.go).
//
// Example usage:
//
//	logger := log.GetLogger().With(
//	    log.ModelNameKey, "GMMHMM",
//	    log.EstimatorIDKey, id,
//	)
//	logger.Info("Baum-Welch finished",
//	    log.IterationKey, 12,
//	    log.LogLikelihoodKey, -1834.2,
//	)

package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are alternating key/value pairs. For Error, an error value may be
// passed as the first field; backends attach it under ErrAttrKey.
type Logger interface {
	// Debug logs per-iteration diagnostics (log-likelihood traces, assignment changes).
	Debug(msg string, fields ...any)

	// Info logs operation summaries.
	Info(msg string, fields ...any)

	// Warn logs recoverable problems such as convergence failures.
	Warn(msg string, fields ...any)

	// Error logs failures. If the first field is an error it is handled specially.
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits log records at the given level.
	// Use it to skip building expensive fields:
	//
	//	if logger.Enabled(ctx, LevelDebug) {
	//	    logger.Debug("alpha column", "values", alpha.RawRowView(t))
	//	}
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
