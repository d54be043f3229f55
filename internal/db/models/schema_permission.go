// Package models - schema_permission.go defines per-user schema grants and the
// permission level hierarchy used to compare a grant against a required level.
package models

import "time"

// PermissionLevel is the access level a grant confers on a schema
type PermissionLevel string

// Permission levels, ordered weakest to strongest
const (
	LevelRead  PermissionLevel = "read"
	LevelWrite PermissionLevel = "write"
	LevelAdmin PermissionLevel = "admin"
)

// Ordinal returns the rank of the level for comparisons. Unknown levels rank
// below read so a corrupt grant never satisfies a requirement.
func (l PermissionLevel) Ordinal() int {
	switch l {
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	case LevelAdmin:
		return 3
	default:
		return 0
	}
}

// Covers reports whether a grant at this level satisfies the required level
func (l PermissionLevel) Covers(required PermissionLevel) bool {
	return l.Ordinal() >= required.Ordinal()
}

// ParsePermissionLevel returns the level for s, or false if s is not a known level
func ParsePermissionLevel(s string) (PermissionLevel, bool) {
	switch PermissionLevel(s) {
	case LevelRead, LevelWrite, LevelAdmin:
		return PermissionLevel(s), true
	}
	return "", false
}

// SchemaPermission represents a user's grant on a database schema
type SchemaPermission struct {
	ID         string
	UserID     string
	SchemaName string
	Level      PermissionLevel
	GrantedBy  *string // Nullable for grants seeded outside the API
	IsActive   bool
	ExpiresAt  *time.Time // Nil means the grant never expires
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsValid reports whether the grant is active and not expired at the given instant
func (p *SchemaPermission) IsValid(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return false
	}
	return true
}
