package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/security-audit/repositories"
	"go.uber.org/zap"
)

// chainTxKey carries the open chain transaction so that repository calls
// made under a scope lock read and append on the same connection
type chainTxKey struct{}

// TransactionManager runs chain appends inside a single database
// transaction. Advisory locks taken inside it are released by the final
// commit or rollback, so every exit path must end the transaction.
type TransactionManager struct {
	db     *DB
	logger *zap.Logger
}

// NewTransactionManager creates a transaction manager over db
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{
		db:     db,
		logger: logger,
	}
}

// Begin starts a transaction. Callers own the Commit or Rollback.
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: sqlTx, ctx: ctx, logger: tm.logger}, nil
}

// InTransaction runs fn with the transaction attached to its context. It
// commits when fn returns nil and rolls back when fn fails or panics. A
// panic is re-raised after the rollback so the lock never outlives it.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tm.rollback(tx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, chainTxKey{}, tx), tx); err != nil {
		tm.rollback(tx, err)
		return err
	}

	return tx.Commit()
}

func (tm *TransactionManager) rollback(tx repositories.Transaction, cause error) {
	if err := tx.Rollback(); err != nil {
		tm.logger.Error("failed to rollback transaction",
			zap.Error(err),
			zap.NamedError("cause", cause),
		)
	}
}

// Transaction wraps a *sql.Tx opened by TransactionManager
type Transaction struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback rolls back the transaction. Rolling back a finished
// transaction is a no-op.
func (t *Transaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.logger.Debug("transaction rolled back")
	return nil
}

// Context returns the context the transaction was opened with
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// Executor is satisfied by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor returns the chain transaction carried by ctx, or the pool
// when there is none
func GetExecutor(ctx context.Context, db *DB) Executor {
	if tx, ok := ctx.Value(chainTxKey{}).(*Transaction); ok {
		return tx.tx
	}
	return db.DB
}
