// Package auth holds the local mirror of the user directory (users, their
// groups and scopes) and session management. Sessions are opaque random
// tokens stored in Redis; passwords are argon2id hashes.
//
// Group membership and scopes are facts consumed by the permission resolver;
// this package does not interpret them.
package auth

import (
	"time"
)

// User is a platform user as far as the review engine needs to know it.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"-"` // Never expose in JSON responses.
	IsStaff      bool       `json:"is_staff"`
	IsSuperuser  bool       `json:"is_superuser"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`

	// Groups and Scopes are loaded by FindByID/FindByEmail only.
	Groups []string `json:"groups,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest is the JSON body of POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// --- Service Input DTOs ---

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Email    string
	Password string

	// Language is the best supported match for the client's
	// Accept-Language, kept on the session.
	Language string
}

// CreateUserInput describes a user mirrored into the local directory.
type CreateUserInput struct {
	Email       string
	DisplayName string
	Password    string
	IsStaff     bool
	IsSuperuser bool
	Groups      []string
	Scopes      []string
}

// --- Session ---

// Session represents an authenticated user session stored in Redis.
// The session ID is the key, and this struct is the value (JSON-encoded).
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsStaff   bool      `json:"is_staff"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}
