package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/security-audit/repositories"
	"go.uber.org/zap"
)

func TestAdvisoryScopeLock_WithScope(t *testing.T) {
	t.Run("locks then commits", func(t *testing.T) {
		db, mock := newMockDB(t)
		lock := NewAdvisoryScopeLock(db, zap.NewNop())
		repo := NewSecurityEventRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock\\(hashtext\\(\\$1\\)\\)").
			WithArgs("tenant-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT record_hash, chain_seq FROM security_events").
			WithArgs("tenant-1").
			WillReturnRows(sqlmock.NewRows([]string{"record_hash", "chain_seq"}))
		mock.ExpectCommit()

		err := lock.WithScope(context.Background(), "tenant-1", func(ctx context.Context) error {
			_, err := repo.FindLatest(ctx, "tenant-1")
			return err
		})

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		lock := NewAdvisoryScopeLock(db, zap.NewNop())
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("__global__").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := lock.WithScope(context.Background(), "__global__", func(context.Context) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock failure skips fn", func(t *testing.T) {
		db, mock := newMockDB(t)
		lock := NewAdvisoryScopeLock(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("tenant-1").
			WillReturnError(errors.New("lock timeout"))
		mock.ExpectRollback()

		called := false
		err := lock.WithScope(context.Background(), "tenant-1", func(context.Context) error {
			called = true
			return nil
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to acquire chain lock")
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("panic in fn rolls back and releases the lock", func(t *testing.T) {
		db, mock := newMockDB(t)
		lock := NewAdvisoryScopeLock(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs("tenant-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "hash failure", func() {
			_ = lock.WithScope(context.Background(), "tenant-1", func(context.Context) error {
				panic("hash failure")
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionManager_InTransaction(t *testing.T) {
	t.Run("fn sees the transaction through GetExecutor", func(t *testing.T) {
		db, mock := newMockDB(t)
		txm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := txm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			assert.IsType(t, &sql.Tx{}, GetExecutor(ctx, db))
			assert.Equal(t, context.Background(), tx.Context())
			return nil
		})

		require.NoError(t, err)
		assert.IsType(t, &sql.DB{}, GetExecutor(context.Background(), db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure is returned", func(t *testing.T) {
		db, mock := newMockDB(t)
		txm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

		err := txm.InTransaction(context.Background(), func(context.Context, repositories.Transaction) error {
			return nil
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure skips fn", func(t *testing.T) {
		db, mock := newMockDB(t)
		txm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		called := false
		err := txm.InTransaction(context.Background(), func(context.Context, repositories.Transaction) error {
			called = true
			return nil
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to begin transaction")
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("panic after a failed rollback still propagates", func(t *testing.T) {
		db, mock := newMockDB(t)
		txm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(errors.New("connection reset"))

		assert.Panics(t, func() {
			_ = txm.InTransaction(context.Background(), func(context.Context, repositories.Transaction) error {
				var m map[string]int
				m["x"] = 1
				return nil
			})
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
