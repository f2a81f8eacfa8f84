package postgres

import (
	"context"

	"github.com/upb/security-audit/config"
	"github.com/upb/security-audit/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for security events
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// InitSchema creates the tables on the main database and, when configured,
// the security events table on the audit database.
func (f *RepositoryFactory) InitSchema(ctx context.Context) error {
	if f.auditDB == nil {
		return f.db.InitSchema(ctx)
	}
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	return f.auditDB.InitAuditSchema(ctx)
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		SecurityEvents: NewSecurityEventRepository(f.eventsDB(), f.logger),
		Users:          NewUserRepository(f.db, f.logger),
	}
}

// NewScopeLock returns a cross-instance chain lock on the security events database
func (f *RepositoryFactory) NewScopeLock() *AdvisoryScopeLock {
	return NewAdvisoryScopeLock(f.eventsDB(), f.logger)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}

func (f *RepositoryFactory) eventsDB() *DB {
	if f.auditDB != nil {
		return f.auditDB
	}
	return f.db
}
