package repositories

import (
	"context"
	"errors"

	"github.com/upb/security-audit/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// ErrChainConflict is returned when an append loses a race for a chain
// position that another writer already took
var ErrChainConflict = errors.New("hash chain position already taken")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Commits when fn succeeds, rolls back when it fails or panics
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// SecurityEventRepository is the append-only store of security event records
type SecurityEventRepository interface {
	// Create appends a fully hashed record
	Create(ctx context.Context, rec *models.SecurityEventRecord) error

	// FindLatest returns the tail of the chain for scope, or nil when the
	// scope has no records yet
	FindLatest(ctx context.Context, scope string) (*models.ChainLink, error)

	// ListByScope returns up to limit records of scope with chain_seq greater
	// than afterSeq, in ascending chain order
	ListByScope(ctx context.Context, scope string, afterSeq int64, limit int) ([]models.SecurityEventRecord, error)
}

// UserDirectory looks up the platform's users for actor enrichment
type UserDirectory interface {
	// FindByInternalID retrieves a user by internal object id
	FindByInternalID(ctx context.Context, id string) (*models.User, error)

	// FindByExternalID retrieves a user by identity provider id
	FindByExternalID(ctx context.Context, clerkID string) (*models.User, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	SecurityEvents SecurityEventRepository
	Users          UserDirectory
}
