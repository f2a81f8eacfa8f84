package models

import (
	"strings"
	"time"
)

// User is a directory entry used to resolve audit actors.
// ID is the internal 24-hex object id; ClerkID is the auth provider subject.
type User struct {
	ID        string    `json:"id" db:"id"`
	ClerkID   string    `json:"clerk_id" db:"clerk_id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// DisplayName derives a human-readable name from the profile fields
func (u *User) DisplayName() string {
	full := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if full != "" {
		return full
	}
	if name := strings.TrimSpace(u.Username); name != "" {
		return name
	}
	return strings.TrimSpace(u.Email)
}
