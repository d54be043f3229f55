// bootstrap.go implements first-run initialization: creating the initial
// admin account before any users exist. The router mounts this behind
// BootstrapTokenMiddleware, which enforces the token and the zero-users gate.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/users"
)

// BootstrapUserService is the slice of users.Manager the bootstrap handler needs.
type BootstrapUserService interface {
	BootstrapAdmin(ctx context.Context, params users.RegisterParams) (*models.User, error)
}

// BootstrapHandlers handles first-run initialization
type BootstrapHandlers struct {
	users    BootstrapUserService
	sessions SessionService
}

// NewBootstrapHandlers creates a new BootstrapHandlers instance
func NewBootstrapHandlers(userService BootstrapUserService, sessionService SessionService) *BootstrapHandlers {
	return &BootstrapHandlers{users: userService, sessions: sessionService}
}

// CreateAdminHandler creates the initial admin account and opens a session
// for it, so the caller can proceed without a separate login.
// POST /api/v1/bootstrap/admin
func (h *BootstrapHandlers) CreateAdminHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "employee_id and password are required"})
			return
		}

		params := users.RegisterParams{
			EmployeeID: req.EmployeeID,
			Password:   req.Password,
			IPAddress:  c.ClientIP(),
		}
		if req.DisplayName != "" {
			params.DisplayName = &req.DisplayName
		}
		if req.Email != "" {
			params.Email = &req.Email
		}

		admin, err := h.users.BootstrapAdmin(c.Request.Context(), params)
		if err != nil {
			respondError(c, err)
			return
		}

		sess, err := h.sessions.Create(c.Request.Context(), admin.ID, c.ClientIP(), c.Request.UserAgent())
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"token":      sess.Token,
			"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
			"user":       userResponse(admin),
		})
	}
}
