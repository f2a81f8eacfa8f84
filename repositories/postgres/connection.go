package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/security-audit/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// WrapDB wraps an already opened pool
func WrapDB(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: sqlDB, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the security events and user directory schema
func (db *DB) InitSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, usersSchema+securityEventsSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes only the security events table (no user directory).
// Use for the separate audit database when DATABASE_URL_AUDIT is set.
func (db *DB) InitAuditSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, securityEventsSchema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}

const usersSchema = `
	-- User directory used for actor enrichment
	CREATE TABLE IF NOT EXISTS users (
		id CHAR(24) PRIMARY KEY,
		clerk_id VARCHAR(128) UNIQUE,
		tenant_id VARCHAR(128),
		first_name VARCHAR(100) NOT NULL DEFAULT '',
		last_name VARCHAR(100) NOT NULL DEFAULT '',
		username VARCHAR(100) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_users_tenant_id ON users(tenant_id);
`

const securityEventsSchema = `
	-- Append-only security events, one hash chain per chain_scope
	CREATE TABLE IF NOT EXISTS security_events (
		event_id UUID PRIMARY KEY,
		schema_version VARCHAR(32) NOT NULL,
		chain_scope VARCHAR(128) NOT NULL,
		chain_seq BIGINT NOT NULL,
		event_type VARCHAR(120) NOT NULL,
		category VARCHAR(64) NOT NULL,
		action VARCHAR(120) NOT NULL,
		resource VARCHAR(120) NOT NULL DEFAULT '',
		resource_id VARCHAR(256) NOT NULL DEFAULT '',
		actor_user_id VARCHAR(128) NOT NULL DEFAULT '',
		actor_clerk_id VARCHAR(128) NOT NULL DEFAULT '',
		actor_type VARCHAR(16) NOT NULL,
		actor_display_name VARCHAR(200) NOT NULL DEFAULT '',
		tenant_id VARCHAR(128) NOT NULL DEFAULT '',
		severity VARCHAR(16) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		risk_score SMALLINT CHECK (risk_score BETWEEN 0 AND 100),
		reason_codes TEXT[] NOT NULL DEFAULT '{}',
		message TEXT NOT NULL DEFAULT '',
		details JSONB,
		request_context JSONB NOT NULL DEFAULT '{}',
		retention_class VARCHAR(32) NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		ingested_at TIMESTAMPTZ NOT NULL,
		record_hash CHAR(64) NOT NULL,
		prev_hash CHAR(64),
		UNIQUE (chain_scope, chain_seq)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_security_events_prev_hash ON security_events(chain_scope, prev_hash) WHERE prev_hash IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_security_events_tenant_id ON security_events(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_security_events_event_type ON security_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_security_events_occurred_at ON security_events(occurred_at);
	CREATE INDEX IF NOT EXISTS idx_security_events_request_id ON security_events((request_context->>'request_id'));
`
