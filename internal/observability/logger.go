// Package observability builds the process logger and a request-aware
// wrapper around it.
package observability

import (
	"context"
	"fmt"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with context awareness.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
}

// Field represents a structured log field.
type Field = zap.Field

// NewLogger builds a zap logger. format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}

// contextLogger tags every entry with the request ID found in ctx
type contextLogger struct {
	base *zap.Logger
}

// NewContextLogger wraps base as a Logger
func NewContextLogger(base *zap.Logger) Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &contextLogger{base: base.WithOptions(zap.AddCallerSkip(1))}
}

func (l *contextLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.base.Debug(msg, withRequestID(ctx, fields)...)
}

func (l *contextLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.base.Info(msg, withRequestID(ctx, fields)...)
}

func (l *contextLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.base.Warn(msg, withRequestID(ctx, fields)...)
}

func (l *contextLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.base.Error(msg, withRequestID(ctx, fields)...)
}

func withRequestID(ctx context.Context, fields []Field) []Field {
	if ctx == nil {
		return fields
	}
	if id := chimiddleware.GetReqID(ctx); id != "" {
		return append(fields, zap.String("request_id", id))
	}
	return fields
}
