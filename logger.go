package indexsync

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with indexsync-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithRank adds the process rank to the logger.
func (l *Logger) WithRank(rank int) *Logger {
	return &Logger{
		Logger: l.Logger.With("rank", rank),
	}
}

// WithPeer adds a peer rank field to the logger.
func (l *Logger) WithPeer(peer int) *Logger {
	return &Logger{
		Logger: l.Logger.With("peer", peer),
	}
}

// WithDirection adds an exchange direction field to the logger.
func (l *Logger) WithDirection(d Direction) *Logger {
	return &Logger{
		Logger: l.Logger.With("direction", d.String()),
	}
}

// LogBuild logs a topology build.
func (l *Logger) LogBuild(ctx context.Context, peers int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "build completed",
			"peers", peers,
		)
	}
}

// LogExchange logs one collective exchange.
func (l *Logger) LogExchange(ctx context.Context, d Direction, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "exchange failed",
			"direction", d.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "exchange completed",
			"direction", d.String(),
			"bytes", bytes,
		)
	}
}

// LogRebuild logs a topology rebuild.
func (l *Logger) LogRebuild(ctx context.Context, peers int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"peers", peers,
		)
	}
}

// LogClose logs the release of an exchanger's plan.
func (l *Logger) LogClose(ctx context.Context) {
	l.DebugContext(ctx, "exchanger closed")
}
