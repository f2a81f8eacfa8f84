package hashchain

import (
	"context"
	"strings"
	"sync"
)

// GlobalScope is the chain used by events without a tenant
const GlobalScope = "__global__"

// ScopeKey returns the chain a tenant's events are appended to
func ScopeKey(tenantID string) string {
	if t := strings.TrimSpace(tenantID); t != "" {
		return t
	}
	return GlobalScope
}

// ScopeLock serializes read-latest-then-append for one chain scope. fn runs
// while the lock is held and receives the context it must use for storage
// calls (a transaction may be attached to it).
type ScopeLock interface {
	WithScope(ctx context.Context, scope string, fn func(ctx context.Context) error) error
}

// MutexScopeLock serializes appends within a single process
type MutexScopeLock struct {
	mu    sync.Mutex
	slots map[string]*scopeSlot
}

type scopeSlot struct {
	sem  chan struct{}
	refs int
}

// NewMutexScopeLock creates an in-process scope lock
func NewMutexScopeLock() *MutexScopeLock {
	return &MutexScopeLock{slots: make(map[string]*scopeSlot)}
}

// WithScope runs fn holding the lock for scope. Waiting is abandoned when
// ctx is cancelled.
func (l *MutexScopeLock) WithScope(ctx context.Context, scope string, fn func(ctx context.Context) error) error {
	slot := l.acquireSlot(scope)
	defer l.releaseSlot(scope, slot)

	select {
	case slot.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-slot.sem }()

	return fn(ctx)
}

func (l *MutexScopeLock) acquireSlot(scope string) *scopeSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[scope]
	if !ok {
		slot = &scopeSlot{sem: make(chan struct{}, 1)}
		l.slots[scope] = slot
	}
	slot.refs++
	return slot
}

func (l *MutexScopeLock) releaseSlot(scope string, slot *scopeSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, scope)
	}
}
