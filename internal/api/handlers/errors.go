// Package handlers implements the HTTP handlers for the QueryGate API:
// registration and login, session management, permission grants, schema
// listing, query execution, and the admin surface (users, allow list, audit
// log). Handlers translate between HTTP and the domain services; all policy
// decisions live in the services themselves.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/access"
	"github.com/querygate/querygate/internal/connector"
	"github.com/querygate/querygate/internal/session"
	"github.com/querygate/querygate/internal/users"
)

// respondError maps domain errors to HTTP status codes and writes a JSON error
// body. Unknown errors become a generic 500 so internal details never leak to
// callers.
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, users.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, connector.ErrUnsafeStatement):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, users.ErrUserInactive):
		return http.StatusForbidden
	case errors.Is(err, users.ErrNotOnAllowList):
		return http.StatusForbidden
	case errors.Is(err, access.ErrSchemaAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, access.ErrSystemTableAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, access.ErrPermissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrEmployeeIDTaken):
		return http.StatusConflict
	case errors.Is(err, users.ErrAlreadyAllowed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
