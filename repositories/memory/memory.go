// Package memory provides in-process repositories for development and tests.
// Nothing is persisted across restarts.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/upb/security-audit/internal/hashchain"
	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/repositories"
)

// SecurityEventStore keeps security event chains in memory
type SecurityEventStore struct {
	mu     sync.RWMutex
	chains map[string][]models.SecurityEventRecord
}

// NewSecurityEventStore creates an empty store
func NewSecurityEventStore() *SecurityEventStore {
	return &SecurityEventStore{chains: make(map[string][]models.SecurityEventRecord)}
}

// Create appends rec, rejecting a taken chain position like the database does
func (s *SecurityEventStore) Create(ctx context.Context, rec *models.SecurityEventRecord) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.chains[rec.ChainScope] {
		if existing.ChainSeq == rec.ChainSeq {
			return fmt.Errorf("scope %s seq %d: %w", rec.ChainScope, rec.ChainSeq, repositories.ErrChainConflict)
		}
		if rec.PrevHash != nil && existing.PrevHash != nil && *existing.PrevHash == *rec.PrevHash {
			return fmt.Errorf("scope %s prev %s: %w", rec.ChainScope, *rec.PrevHash, repositories.ErrChainConflict)
		}
	}

	stored, err := clone(rec)
	if err != nil {
		return fmt.Errorf("failed to copy security event %s: %w", rec.EventID, err)
	}
	s.chains[rec.ChainScope] = append(s.chains[rec.ChainScope], stored)
	return nil
}

// FindLatest returns the highest chain position of scope
func (s *SecurityEventStore) FindLatest(ctx context.Context, scope string) (*models.ChainLink, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.SecurityEventRecord
	chain := s.chains[scope]
	for i := range chain {
		if latest == nil || chain[i].ChainSeq > latest.ChainSeq {
			latest = &chain[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	return &models.ChainLink{RecordHash: latest.RecordHash, ChainSeq: latest.ChainSeq}, nil
}

// ListByScope returns records after afterSeq in ascending chain order
func (s *SecurityEventStore) ListByScope(ctx context.Context, scope string, afterSeq int64, limit int) ([]models.SecurityEventRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.SecurityEventRecord{}
	for i := range s.chains[scope] {
		rec := &s.chains[scope][i]
		if rec.ChainSeq <= afterSeq {
			continue
		}
		out, err := clone(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to copy security event %s: %w", rec.EventID, err)
		}
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChainSeq < result[j].ChainSeq })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// clone deep-copies rec so neither the caller nor later readers share its
// slices or details. Details take the shape a JSONB column gives back:
// canonical JSON decoded with json.Number.
func clone(rec *models.SecurityEventRecord) (models.SecurityEventRecord, error) {
	out := *rec
	if rec.Details != nil {
		data, err := hashchain.Canonicalize(rec.Details)
		if err != nil {
			return out, err
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var details any
		if err := dec.Decode(&details); err != nil {
			return out, err
		}
		out.Details = details
	}
	if rec.ReasonCodes != nil {
		out.ReasonCodes = make([]string, len(rec.ReasonCodes))
		copy(out.ReasonCodes, rec.ReasonCodes)
	}
	if rec.RiskScore != nil {
		score := *rec.RiskScore
		out.RiskScore = &score
	}
	if rec.PrevHash != nil {
		prev := *rec.PrevHash
		out.PrevHash = &prev
	}
	return out, nil
}

// UserDirectory is a fixed in-memory user directory
type UserDirectory struct {
	mu      sync.RWMutex
	byID    map[string]models.User
	byClerk map[string]models.User
}

// NewUserDirectory creates a directory seeded with users
func NewUserDirectory(users ...models.User) *UserDirectory {
	d := &UserDirectory{
		byID:    make(map[string]models.User),
		byClerk: make(map[string]models.User),
	}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user
func (d *UserDirectory) Put(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u.ID != "" {
		d.byID[u.ID] = u
	}
	if u.ClerkID != "" {
		d.byClerk[u.ClerkID] = u
	}
}

// FindByInternalID retrieves a user by internal object id
func (d *UserDirectory) FindByInternalID(ctx context.Context, id string) (*models.User, error) {
	return d.find(ctx, d.byID, id)
}

// FindByExternalID retrieves a user by identity provider id
func (d *UserDirectory) FindByExternalID(ctx context.Context, clerkID string) (*models.User, error) {
	return d.find(ctx, d.byClerk, clerkID)
}

func (d *UserDirectory) find(ctx context.Context, index map[string]models.User, key string) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := index[key]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", key, repositories.ErrNotFound)
	}
	return &u, nil
}
