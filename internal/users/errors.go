// errors.go defines sentinel error values for account management. Callers
// match them with errors.Is; the API layer maps each one to an HTTP status.
package users

import "errors"

var (
	// Input validation
	ErrInvalidInput = errors.New("invalid input")

	// Account lookup and state
	ErrUserNotFound = errors.New("user not found")
	ErrUserInactive = errors.New("user account is inactive")

	// Registration
	ErrEmployeeIDTaken = errors.New("employee ID is already registered")
	ErrNotOnAllowList  = errors.New("employee ID is not on the allow list")
	ErrAlreadyAllowed  = errors.New("employee ID is already on the allow list")

	// Authentication. Deliberately covers both unknown employee ID and wrong
	// password so responses do not reveal which accounts exist.
	ErrInvalidCredentials = errors.New("invalid employee ID or password")
)
