// Package auth verifies the bearer tokens presented to the ingestion API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/upb/security-audit/middleware"
	"github.com/upb/security-audit/services"
)

// tokenClaims is the wire shape of an ingestion token
type tokenClaims struct {
	jwt.RegisteredClaims
	Email    string   `json:"email,omitempty"`
	TenantID string   `json:"tenant_id,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
	Name     string   `json:"name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// HMACValidator validates HS256 tokens signed with a shared secret
type HMACValidator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewHMACValidator creates a validator. When issuer is non-empty tokens
// must carry it in iss.
func NewHMACValidator(secret, issuer string) (*HMACValidator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &HMACValidator{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// ValidateToken implements middleware.TokenValidator
func (v *HMACValidator) ValidateToken(ctx context.Context, tokenString string) (*middleware.Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", services.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, services.ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", services.ErrInvalidToken)
	}

	out := &middleware.Claims{
		Sub:         claims.Subject,
		Email:       claims.Email,
		TenantID:    claims.TenantID,
		UserID:      claims.UserID,
		DisplayName: claims.Name,
		Roles:       claims.Roles,
		Iss:         claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.Iat = claims.IssuedAt.Unix()
	}
	return out, nil
}

// Sign issues a token for c valid for ttl. Used by operators and tests to
// mint ingestion credentials.
func (v *HMACValidator) Sign(c middleware.Claims, ttl time.Duration) (string, error) {
	now := v.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.Sub,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:    c.Email,
		TenantID: c.TenantID,
		UserID:   c.UserID,
		Name:     c.DisplayName,
		Roles:    c.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// RejectAllValidator refuses every token. It stands in when no secret is
// configured outside production.
type RejectAllValidator struct{}

// ValidateToken implements middleware.TokenValidator
func (RejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("%w: token authentication is not configured", services.ErrInvalidToken)
}
