// errors.go defines sentinel error values for permission and authorization
// failures. Callers match them with errors.Is; the API layer maps each one to
// an HTTP status.
package access

import "errors"

var (
	// ErrPermissionNotFound is returned when revoking or extending a grant
	// that does not exist or is already revoked.
	ErrPermissionNotFound = errors.New("permission grant not found")

	// ErrSchemaAccessDenied is returned when the user holds no grant that
	// covers the required level on a referenced schema.
	ErrSchemaAccessDenied = errors.New("access to schema denied")

	// ErrSystemTableAccessDenied is returned when a non-admin query touches a
	// database system schema.
	ErrSystemTableAccessDenied = errors.New("access to system tables denied")
)
