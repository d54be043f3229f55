// Package models - audit_log.go defines the AuditLog model for recording security-relevant
// events, capturing actor, action, outcome, affected resource, client IP, and arbitrary metadata.
package models

import "time"

// AuditLog represents an audit log entry for tracking user and system actions
type AuditLog struct {
	ID           string
	UserID       *string                // Nullable for system actions and failed logins
	Action       string                 // "user.login", "permission.grant", "query.denied"
	ResourceType *string                // "user", "session", "permission", "query"
	ResourceID   *string                // ID of affected resource, or schema/statement context
	Success      bool                   // Whether the recorded action succeeded
	Metadata     map[string]interface{} // JSONB: additional context
	IPAddress    *string                // Client IP
	CreatedAt    time.Time
}
