// Package models - allowlist_entry.go defines the registration allow-list entry.
// Only employee IDs present on the allow-list may register an account.
package models

import "time"

// AllowListEntry represents a pre-approved employee ID for registration
type AllowListEntry struct {
	ID         string    `db:"id"`
	EmployeeID string    `db:"employee_id"`
	Note       *string   `db:"note"`     // Optional operator note ("requested by finance", ticket ref)
	AddedBy    *string   `db:"added_by"` // Nullable for entries seeded by migration
	CreatedAt  time.Time `db:"created_at"`
}
