package postgres

import (
	"context"
	"fmt"

	"github.com/upb/security-audit/repositories"
	"go.uber.org/zap"
)

// AdvisoryScopeLock serializes chain appends across every instance sharing
// the database. The lock is transaction scoped: it is released on commit or
// rollback, and the repository calls made by fn join the same transaction.
type AdvisoryScopeLock struct {
	db     *DB
	txm    repositories.TransactionManager
	logger *zap.Logger
}

// NewAdvisoryScopeLock creates a scope lock backed by pg_advisory_xact_lock
func NewAdvisoryScopeLock(db *DB, logger *zap.Logger) *AdvisoryScopeLock {
	return &AdvisoryScopeLock{
		db:     db,
		txm:    NewTransactionManager(db, logger),
		logger: logger,
	}
}

// WithScope runs fn inside a transaction holding the advisory lock for scope
func (l *AdvisoryScopeLock) WithScope(ctx context.Context, scope string, fn func(ctx context.Context) error) error {
	return l.txm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(txCtx, l.db)
		if _, err := executor.ExecContext(txCtx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope); err != nil {
			return fmt.Errorf("failed to acquire chain lock for %s: %w", scope, err)
		}

		l.logger.Debug("chain lock acquired", zap.String("chain_scope", scope))
		return fn(txCtx)
	})
}
