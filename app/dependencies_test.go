package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/security-audit/auth"
	"github.com/upb/security-audit/config"
	"github.com/upb/security-audit/internal/hashchain"
	"github.com/upb/security-audit/services/audit"
	"go.uber.org/zap/zaptest"
)

func TestNewDependencies(t *testing.T) {
	t.Run("memory store wires every component", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps)
		defer deps.Close(ctx)

		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.SQLDB())
		assert.Nil(t, deps.RepoFactory)
		assert.IsType(t, &hashchain.MutexScopeLock{}, deps.ChainLock)

		assert.NotNil(t, deps.SecurityEvents)
		assert.NotNil(t, deps.Users)
		assert.NotNil(t, deps.Hasher)
		assert.NotNil(t, deps.Guardrails)
		assert.NotNil(t, deps.ActorCache)
		assert.NotNil(t, deps.Actors)
		assert.NotNil(t, deps.Events)
		assert.NotNil(t, deps.Audit)
		assert.NotNil(t, deps.AuthMiddleware)

		require.NotNil(t, deps.Dispatcher)
		assert.True(t, deps.Dispatcher.GetStats().Started)
		assert.IsType(t, &auth.HMACValidator{}, deps.TokenValidator)
	})

	t.Run("no jwt secret rejects every token", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Auth.JWTSecret = ""

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.IsType(t, auth.RejectAllValidator{}, deps.TokenValidator)
	})

	t.Run("guardrail rules file extends the defaults", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.SecurityEvents.GuardrailRulesFile = writeRules(t, `
rules:
  invoice.voided:
    require_actor: true
    required_detail_paths: [invoiceId]
`)

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.True(t, deps.Guardrails.IsCritical("invoice.voided"))
		assert.True(t, deps.Guardrails.IsCritical("user.deleted"))
	})

	t.Run("invalid guardrail rules file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SecurityEvents.GuardrailRulesFile = writeRules(t, "rules:\n  x.y:\n    unknown_key: true\n")

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize security event pipeline")
	})

	t.Run("missing guardrail rules file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SecurityEvents.GuardrailRulesFile = filepath.Join(t.TempDir(), "absent.yaml")

		_, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read guardrail rules file")
	})

	t.Run("database connection failure", func(t *testing.T) {
		if testing.Short() {
			t.Skip("dials the network")
		}
		cfg := testConfig(t)
		cfg.SecurityEvents.Store = config.StorePostgres
		cfg.SecurityEvents.ChainLock = config.ChainLockAdvisory
		cfg.Database.Host = "invalid-host-that-does-not-exist"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize store")
	})
}

func TestDependencies_LegacyEventsReachTheChain(t *testing.T) {
	tests := []struct {
		name        string
		asyncLegacy bool
	}{
		{"synchronous adapter", false},
		{"adapter behind the dispatcher", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t)
			cfg.SecurityEvents.AsyncLegacy = tt.asyncLegacy

			deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
			require.NoError(t, err)

			err = deps.Audit.LogAuditEvent(ctx, "user-1", "export", "report", "r-9",
				map[string]any{"format": "csv"}, &audit.Options{TenantID: "t1"})
			require.NoError(t, err)

			// Close drains the dispatcher before returning
			require.NoError(t, deps.Close(ctx))

			scope := hashchain.ScopeKey("t1")
			records, err := deps.SecurityEvents.ListByScope(ctx, scope, 0, 10)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "t1", records[0].TenantID)

			report, err := deps.Events.VerifyChain(ctx, scope)
			require.NoError(t, err)
			assert.True(t, report.Valid)
		})
	}
}

func TestDependenciesClose(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, deps.Close(ctx))
	assert.False(t, deps.Dispatcher.GetStats().Started)

	// the dispatcher is already stopped; a second close reports it without panicking
	err = deps.Close(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

// Test helpers

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "audit",
			Password:        "audit",
			Database:        "audit_test",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Auth: config.AuthConfig{
			JWTSecret: "test-jwt-secret",
			JWTIssuer: "security-audit-test",
			AdminRole: "admin",
		},
		SecurityEvents: config.SecurityEventsConfig{
			Store:           config.StoreMemory,
			ChainLock:       config.ChainLockMutex,
			WriteTimeout:    time.Second,
			ActorCacheSize:  100,
			ActorCacheTTL:   time.Minute,
			DispatchBuffer:  16,
			DispatchWorkers: 2,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "error",
			LogFormat: "json",
		},
	}
}
