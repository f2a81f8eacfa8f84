package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/repositories"
	"go.uber.org/zap"
)

// UserRepository implements the repositories.UserDirectory interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user directory
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserDirectory {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const selectUserColumns = `
	SELECT id, clerk_id, tenant_id, first_name, last_name, username, email, created_at, updated_at
	FROM users
`

// FindByInternalID retrieves a user by internal object id
func (r *UserRepository) FindByInternalID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, selectUserColumns+`WHERE id = $1`, id)
}

// FindByExternalID retrieves a user by identity provider id
func (r *UserRepository) FindByExternalID(ctx context.Context, clerkID string) (*models.User, error) {
	return r.findOne(ctx, selectUserColumns+`WHERE clerk_id = $1`, clerkID)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg string) (*models.User, error) {
	executor := GetExecutor(ctx, r.db)
	user := &models.User{}
	var clerkID, tenantID sql.NullString

	err := executor.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&clerkID,
		&tenantID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", arg, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.ClerkID = clerkID.String
	user.TenantID = tenantID.String
	return user, nil
}
