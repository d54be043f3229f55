// Package models - session.go defines the server-side session record backing
// opaque bearer tokens issued at login.
package models

import "time"

// Session represents an authenticated session for a user
type Session struct {
	ID             string
	UserID         string
	Token          string
	IsActive       bool
	IPAddress      *string
	UserAgent      *string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the session's deadline has passed at the given instant
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
