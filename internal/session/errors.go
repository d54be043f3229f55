// errors.go defines sentinel error values for session handling. Callers match
// them with errors.Is; the API layer maps each one to an HTTP status.
package session

import "errors"

var (
	// ErrSessionNotFound covers unknown tokens and already-destroyed sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session exists but its deadline has
	// passed. The session is deactivated as a side effect of the lookup.
	ErrSessionExpired = errors.New("session has expired")
)
