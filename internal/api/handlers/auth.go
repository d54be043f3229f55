// auth.go implements HTTP handlers for registration, login, logout, session
// refresh, and session management.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/middleware"
	"github.com/querygate/querygate/internal/users"
)

// UserService is the slice of users.Manager the auth handlers need.
type UserService interface {
	Register(ctx context.Context, params users.RegisterParams) (*models.User, error)
	Authenticate(ctx context.Context, employeeID, password, ipAddress string) (*models.User, error)
	GetByID(ctx context.Context, userID string) (*models.User, error)
}

// SessionService is the slice of session.Registry the auth handlers need.
type SessionService interface {
	Create(ctx context.Context, userID, ipAddress, userAgent string) (*models.Session, error)
	Refresh(ctx context.Context, token string) (*models.Session, error)
	Destroy(ctx context.Context, token string) error
	DestroyAllForUser(ctx context.Context, userID, keepToken string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]*models.Session, error)
}

// AuthHandlers handles authentication and session endpoints
type AuthHandlers struct {
	users    UserService
	sessions SessionService
}

// NewAuthHandlers creates a new AuthHandlers instance
func NewAuthHandlers(userService UserService, sessionService SessionService) *AuthHandlers {
	return &AuthHandlers{users: userService, sessions: sessionService}
}

type registerRequest struct {
	EmployeeID  string `json:"employee_id" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type loginRequest struct {
	EmployeeID string `json:"employee_id" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// RegisterHandler creates a new account for an allow-listed employee ID.
// POST /api/v1/auth/register
func (h *AuthHandlers) RegisterHandler() gin.HandlerFunc {
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

		user, err := h.users.Register(c.Request.Context(), params)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"user": userResponse(user)})
	}
}

// LoginHandler verifies credentials and opens a new session.
// POST /api/v1/auth/login
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "employee_id and password are required"})
			return
		}

		user, err := h.users.Authenticate(c.Request.Context(), req.EmployeeID, req.Password, c.ClientIP())
		if err != nil {
			respondError(c, err)
			return
		}

		sess, err := h.sessions.Create(c.Request.Context(), user.ID, c.ClientIP(), c.Request.UserAgent())
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      sess.Token,
			"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
			"user":       userResponse(user),
		})
	}
}

// LogoutHandler destroys the current session. Logout is idempotent; a token
// that is already gone still gets a 204.
// POST /api/v1/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := middleware.CurrentSession(c)
		if sess == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No session to log out; JWT callers manage their own token lifetime"})
			return
		}

		if err := h.sessions.Destroy(c.Request.Context(), sess.Token); err != nil {
			respondError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// RefreshHandler extends the current session's deadline.
// POST /api/v1/auth/refresh
func (h *AuthHandlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := middleware.CurrentSession(c)
		if sess == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No session to refresh; JWT callers manage their own token lifetime"})
			return
		}

		refreshed, err := h.sessions.Refresh(c.Request.Context(), sess.Token)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"expires_at": refreshed.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// TokenHandler issues a short-lived JWT for the authenticated caller, for
// scripted and service use where holding a refreshable session is awkward.
// POST /api/v1/auth/token
func (h *AuthHandlers) TokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		ttl := time.Hour
		token, err := auth.GenerateJWT(user.ID, user.EmployeeID, ttl)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_at":   time.Now().Add(ttl).UTC().Format(time.RFC3339),
		})
	}
}

// MeHandler returns the current authenticated user.
// GET /api/v1/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": userResponse(user)})
	}
}

// ListSessionsHandler lists the caller's active sessions.
// GET /api/v1/auth/sessions
func (h *AuthHandlers) ListSessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		sessions, err := h.sessions.ListForUser(c.Request.Context(), user.ID)
		if err != nil {
			respondError(c, err)
			return
		}

		current := middleware.CurrentSession(c)
		out := make([]gin.H, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, sessionResponse(s, current != nil && s.ID == current.ID))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	}
}

// DestroySessionsHandler destroys all of the caller's sessions except the one
// making the request, so "log out everywhere" does not cut off the caller.
// DELETE /api/v1/auth/sessions
func (h *AuthHandlers) DestroySessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		keepToken := ""
		if sess := middleware.CurrentSession(c); sess != nil {
			keepToken = sess.Token
		}

		n, err := h.sessions.DestroyAllForUser(c.Request.Context(), user.ID, keepToken)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"destroyed": n})
	}
}

// userResponse shapes a user for JSON output. The password hash never leaves
// the server.
func userResponse(user *models.User) gin.H {
	out := gin.H{
		"id":          user.ID,
		"employee_id": user.EmployeeID,
		"is_active":   user.IsActive,
		"is_admin":    user.IsAdmin,
		"login_count": user.LoginCount,
		"created_at":  user.CreatedAt,
	}
	if user.DisplayName != nil {
		out["display_name"] = *user.DisplayName
	}
	if user.Email != nil {
		out["email"] = *user.Email
	}
	if user.LastLoginAt != nil {
		out["last_login_at"] = *user.LastLoginAt
	}
	return out
}

// sessionResponse shapes a session for JSON output. The raw token is only
// returned at login time.
func sessionResponse(s *models.Session, current bool) gin.H {
	out := gin.H{
		"id":               s.ID,
		"created_at":       s.CreatedAt,
		"last_activity_at": s.LastActivityAt,
		"expires_at":       s.ExpiresAt,
		"current":          current,
	}
	if s.IPAddress != nil {
		out["ip_address"] = *s.IPAddress
	}
	if s.UserAgent != nil {
		out["user_agent"] = *s.UserAgent
	}
	return out
}
