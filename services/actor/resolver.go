// Package actor normalizes the loosely typed actor identifiers callers pass
// with security events into one canonical actor shape.
package actor

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/repositories"
	"github.com/upb/security-audit/utils"
)

// Actor is the normalized identity attached to a security event.
// The zero value means no actor could be determined.
type Actor struct {
	UserID      string `json:"actor_user_id,omitempty"`
	ClerkID     string `json:"actor_clerk_id,omitempty"`
	TenantID    string `json:"tenant_id,omitempty"`
	DisplayName string `json:"actor_display_name,omitempty"`
}

// IsZero reports whether no actor identifier is known
func (a Actor) IsZero() bool {
	return a.UserID == "" && a.ClerkID == ""
}

// Resolver looks actors up in the user directory
type Resolver struct {
	users  repositories.UserDirectory
	cache  *Cache
	logger *zap.Logger
}

// NewResolver creates a Resolver. A nil cache disables caching.
func NewResolver(users repositories.UserDirectory, cache *Cache, logger *zap.Logger) *Resolver {
	return &Resolver{
		users:  users,
		cache:  cache,
		logger: logger,
	}
}

// Resolve maps the given identifiers to a canonical actor. It never fails:
// directory errors and misses are logged and degrade to the raw identifiers.
func (r *Resolver) Resolve(ctx context.Context, actorUserID, actorClerkID string) Actor {
	actorUserID = strings.TrimSpace(actorUserID)
	actorClerkID = strings.TrimSpace(actorClerkID)

	internalID := ""
	externalID := actorClerkID
	if utils.IsObjectID(actorUserID) {
		internalID = actorUserID
	} else if externalID == "" {
		externalID = actorUserID
	}

	if internalID != "" {
		if a, ok := r.lookup(ctx, "id:"+internalID, r.findInternal); ok {
			return a
		}
	}
	if externalID != "" {
		if a, ok := r.lookup(ctx, "ext:"+externalID, r.findExternal); ok {
			return a
		}
	}

	return Actor{UserID: internalID, ClerkID: externalID}
}

func (r *Resolver) findInternal(ctx context.Context, id string) (*models.User, error) {
	return r.users.FindByInternalID(ctx, id)
}

func (r *Resolver) findExternal(ctx context.Context, id string) (*models.User, error) {
	return r.users.FindByExternalID(ctx, id)
}

func (r *Resolver) lookup(ctx context.Context, key string, find func(context.Context, string) (*models.User, error)) (Actor, bool) {
	if r.cache != nil {
		if a, ok := r.cache.Get(key); ok {
			return a, true
		}
	}
	if r.users == nil {
		return Actor{}, false
	}

	_, id, _ := strings.Cut(key, ":")
	user, err := find(ctx, id)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			r.logger.Warn("actor lookup failed", zap.String("lookup", key), zap.Error(err))
		}
		return Actor{}, false
	}

	a := FromUser(user)
	if r.cache != nil {
		r.cache.Set(key, a)
	}
	return a, true
}

// FromUser converts a directory entry to an Actor
func FromUser(u *models.User) Actor {
	return Actor{
		UserID:      u.ID,
		ClerkID:     u.ClerkID,
		TenantID:    u.TenantID,
		DisplayName: u.DisplayName(),
	}
}

// CacheStats exposes the resolver cache counters; zero when caching is off
func (r *Resolver) CacheStats() CacheStats {
	if r.cache == nil {
		return CacheStats{}
	}
	return r.cache.Stats()
}
