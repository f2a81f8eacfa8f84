package observability

import (
	"context"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr string
	}{
		{name: "json info", level: "info", format: "json"},
		{name: "console debug", level: "debug", format: "console"},
		{name: "defaults", level: "", format: ""},
		{name: "upper case level", level: "WARN", format: "json"},
		{name: "invalid level", level: "loud", format: "json", wantErr: "invalid log level"},
		{name: "invalid format", level: "info", format: "xml", wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Nil(t, logger)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	logger, err := NewLogger("error", "json")
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}

func TestContextLogger_AddsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewContextLogger(zap.New(core))

	ctx := context.WithValue(context.Background(), chimiddleware.RequestIDKey, "req-123")
	logger.Info(ctx, "with id", zap.String("k", "v"))
	logger.Warn(context.Background(), "without id")

	entries := logs.All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "v", fields["k"])

	_, ok := entries[1].ContextMap()["request_id"]
	assert.False(t, ok)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestNewContextLogger_NilBase(t *testing.T) {
	logger := NewContextLogger(nil)
	assert.NotPanics(t, func() {
		logger.Error(context.Background(), "dropped")
	})
}
