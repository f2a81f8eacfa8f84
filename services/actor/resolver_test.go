package actor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/security-audit/models"
	"github.com/upb/security-audit/repositories"
)

const objectID = "65f1c2a9e4b0a1b2c3d4e5f6"

type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) FindByInternalID(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserDirectory) FindByExternalID(ctx context.Context, clerkID string) (*models.User, error) {
	args := m.Called(ctx, clerkID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func ada() *models.User {
	return &models.User{
		ID:        objectID,
		ClerkID:   "user_2abc",
		TenantID:  "tenant-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func notFound(id string) error {
	return fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	canonical := Actor{UserID: objectID, ClerkID: "user_2abc", TenantID: "tenant-1", DisplayName: "Ada Lovelace"}

	tests := []struct {
		name    string
		userID  string
		clerkID string
		setup   func(m *MockUserDirectory)
		want    Actor
	}{
		{
			name:   "internal id hit",
			userID: objectID,
			setup: func(m *MockUserDirectory) {
				m.On("FindByInternalID", ctx, objectID).Return(ada(), nil)
			},
			want: canonical,
		},
		{
			name:    "external id hit",
			clerkID: "user_2abc",
			setup: func(m *MockUserDirectory) {
				m.On("FindByExternalID", ctx, "user_2abc").Return(ada(), nil)
			},
			want: canonical,
		},
		{
			name:   "non object id user id is treated as external",
			userID: "user_2abc",
			setup: func(m *MockUserDirectory) {
				m.On("FindByExternalID", ctx, "user_2abc").Return(ada(), nil)
			},
			want: canonical,
		},
		{
			name:    "internal miss falls through to external",
			userID:  objectID,
			clerkID: "user_2abc",
			setup: func(m *MockUserDirectory) {
				m.On("FindByInternalID", ctx, objectID).Return(nil, notFound(objectID))
				m.On("FindByExternalID", ctx, "user_2abc").Return(ada(), nil)
			},
			want: canonical,
		},
		{
			name:    "both miss keeps raw identifiers",
			userID:  objectID,
			clerkID: "user_gone",
			setup: func(m *MockUserDirectory) {
				m.On("FindByInternalID", ctx, objectID).Return(nil, notFound(objectID))
				m.On("FindByExternalID", ctx, "user_gone").Return(nil, notFound("user_gone"))
			},
			want: Actor{UserID: objectID, ClerkID: "user_gone"},
		},
		{
			name:   "directory error degrades to internal id",
			userID: objectID,
			setup: func(m *MockUserDirectory) {
				m.On("FindByInternalID", ctx, objectID).Return(nil, errors.New("connection refused"))
			},
			want: Actor{UserID: objectID},
		},
		{
			name:   "external miss keeps external id",
			userID: "legacy-42",
			setup: func(m *MockUserDirectory) {
				m.On("FindByExternalID", ctx, "legacy-42").Return(nil, notFound("legacy-42"))
			},
			want: Actor{ClerkID: "legacy-42"},
		},
		{
			name:  "no identifiers",
			setup: func(m *MockUserDirectory) {},
			want:  Actor{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := new(MockUserDirectory)
			tt.setup(dir)
			r := NewResolver(dir, nil, zap.NewNop())

			got := r.Resolve(ctx, tt.userID, tt.clerkID)

			assert.Equal(t, tt.want, got)
			dir.AssertExpectations(t)
		})
	}
}

func TestResolver_CachesHitsOnly(t *testing.T) {
	ctx := context.Background()
	dir := new(MockUserDirectory)
	dir.On("FindByInternalID", ctx, objectID).Return(ada(), nil).Once()
	dir.On("FindByExternalID", ctx, "user_missing").Return(nil, notFound("user_missing")).Twice()

	r := NewResolver(dir, NewCache(10, time.Minute), zap.NewNop())

	first := r.Resolve(ctx, objectID, "")
	second := r.Resolve(ctx, objectID, "")
	assert.Equal(t, first, second)

	r.Resolve(ctx, "", "user_missing")
	r.Resolve(ctx, "", "user_missing")

	dir.AssertExpectations(t)
	stats := r.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Size)
}

func TestResolver_NilDirectory(t *testing.T) {
	r := NewResolver(nil, nil, zap.NewNop())

	got := r.Resolve(context.Background(), " "+objectID+" ", "")

	assert.Equal(t, Actor{UserID: objectID}, got)
	assert.Equal(t, CacheStats{}, r.CacheStats())
}

func TestCache_LRUAndTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(2, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", Actor{UserID: "a"})
	c.Set("b", Actor{UserID: "b"})

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", Actor{UserID: "c"})
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired entry should miss")
	assert.Equal(t, 1, c.CleanupExpired())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache(10, time.Minute)
	a := FromUser(ada())
	c.Set("id:"+objectID, a)
	c.Set("ext:user_2abc", a)
	c.Set("ext:other", Actor{ClerkID: "other"})

	c.Invalidate("", "user_2abc")

	assert.Equal(t, 1, c.Stats().Size)
	_, ok := c.Get("ext:other")
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Stats().Size)
}

func TestActor_IsZero(t *testing.T) {
	assert.True(t, Actor{}.IsZero())
	assert.True(t, Actor{TenantID: "t1"}.IsZero())
	assert.False(t, Actor{ClerkID: "user_1"}.IsZero())
}
