package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token adds claims to context", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mw := NewAuthMiddleware(mockValidator, logger)

		claims := &Claims{
			Sub:      "user_admin",
			UserID:   "65f1c2a9e4b0a1b2c3d4e5f6",
			TenantID: "t1",
			Roles:    []string{"admin"},
		}
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			extracted := GetClaimsFromContext(r.Context())
			assert.NotNil(t, extracted)
			assert.Equal(t, claims.Sub, extracted.Sub)
			assert.Equal(t, claims.TenantID, extracted.TenantID)
			assert.Equal(t, claims.Roles, extracted.Roles)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "no scheme", header: "InvalidFormat"},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "empty bearer", header: "Bearer   "},
	}
	for _, tt := range tests {
		t.Run(tt.name+" returns 401", func(t *testing.T) {
			mockValidator := new(MockTokenValidator)
			mw := NewAuthMiddleware(mockValidator, logger)

			handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			mockValidator.AssertNotCalled(t, "ValidateToken")
		})
	}

	t.Run("rejected token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mw := NewAuthMiddleware(mockValidator, logger)

		mockValidator.On("ValidateToken", mock.Anything, "invalid-token").
			Return(nil, errors.New("token validation failed"))

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "bearer invalid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Invalid or expired token")
		mockValidator.AssertExpectations(t)
	})
}

func TestRequireRole(t *testing.T) {
	logger := zap.NewNop()
	mw := NewAuthMiddleware(new(MockTokenValidator), logger)

	tests := []struct {
		name       string
		claims     *Claims
		wantStatus int
	}{
		{name: "has role", claims: &Claims{Sub: "u1", Roles: []string{"auditor", "admin"}}, wantStatus: http.StatusOK},
		{name: "missing role", claims: &Claims{Sub: "u1", Roles: []string{"auditor"}}, wantStatus: http.StatusForbidden},
		{name: "no roles", claims: &Claims{Sub: "u1"}, wantStatus: http.StatusForbidden},
		{name: "no claims", claims: nil, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := mw.RequireRole("admin")(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestClaimsHasRole(t *testing.T) {
	var nilClaims *Claims
	assert.False(t, nilClaims.HasRole("admin"))
	assert.True(t, (&Claims{Roles: []string{"admin"}}).HasRole("admin"))
	assert.False(t, (&Claims{Roles: []string{"Admin"}}).HasRole("admin"))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetClaimsFromContext(ctx))
	assert.Equal(t, "", GetRequestIDFromContext(ctx))

	ctx = context.WithValue(ctx, chimiddleware.RequestIDKey, "req-7")
	assert.Equal(t, "req-7", GetRequestIDFromContext(ctx))

	claims := &Claims{Sub: "u1"}
	assert.Same(t, claims, GetClaimsFromContext(WithClaims(ctx, claims)))
}
