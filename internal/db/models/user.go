// Package models - user.go defines the User model for BI assistant accounts keyed by
// employee ID, along with validation helpers for employee identifiers and passwords.
package models

import (
	"regexp"
	"time"
)

// User represents an account in the system
type User struct {
	ID           string
	EmployeeID   string
	PasswordHash string
	DisplayName  *string
	Email        *string
	IsActive     bool
	IsAdmin      bool
	LoginCount   int
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var employeeIDPattern = regexp.MustCompile(`^[A-Za-z0-9\-_]{3,20}$`)

// Password length bounds enforced at registration time
const (
	PasswordMinLength = 8
	PasswordMaxLength = 128
)

// ValidEmployeeID reports whether the employee identifier is well-formed:
// 3-20 characters drawn from letters, digits, hyphen, and underscore.
func ValidEmployeeID(employeeID string) bool {
	return employeeIDPattern.MatchString(employeeID)
}

// ValidPassword reports whether the plaintext password satisfies the length bounds
func ValidPassword(password string) bool {
	return len(password) >= PasswordMinLength && len(password) <= PasswordMaxLength
}
