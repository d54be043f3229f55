package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/querygate/querygate/internal/access"
	"github.com/querygate/querygate/internal/connector"
	"github.com/querygate/querygate/internal/session"
	"github.com/querygate/querygate/internal/users"
)

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", users.ErrInvalidInput, http.StatusBadRequest},
		{"wrapped invalid input", fmt.Errorf("%w: password too short", users.ErrInvalidInput), http.StatusBadRequest},
		{"unsafe statement", connector.ErrUnsafeStatement, http.StatusBadRequest},
		{"invalid credentials", users.ErrInvalidCredentials, http.StatusUnauthorized},
		{"expired session", session.ErrSessionExpired, http.StatusUnauthorized},
		{"inactive user", users.ErrUserInactive, http.StatusForbidden},
		{"not on allow list", users.ErrNotOnAllowList, http.StatusForbidden},
		{"schema denied", access.ErrSchemaAccessDenied, http.StatusForbidden},
		{"system table denied", access.ErrSystemTableAccessDenied, http.StatusForbidden},
		{"user not found", users.ErrUserNotFound, http.StatusNotFound},
		{"session not found", session.ErrSessionNotFound, http.StatusNotFound},
		{"permission not found", access.ErrPermissionNotFound, http.StatusNotFound},
		{"employee id taken", users.ErrEmployeeIDTaken, http.StatusConflict},
		{"already allowed", users.ErrAlreadyAllowed, http.StatusConflict},
		{"unknown error", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusForError(tc.err))
		})
	}
}
