// Package middleware provides Gin HTTP middleware for authentication, authorization,
// rate limiting, security headers, and audit logging.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Admin → Audit → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the user identity; the admin guard reads from that context.
// Audit logging runs after the admin guard so only successfully authorized
// mutations are recorded as successful actions.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/session"
	"github.com/querygate/querygate/internal/users"
)

// UserGetter loads users for the authentication path. Satisfied by
// *repositories.UserRepository.
type UserGetter interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// SessionValidator validates opaque session tokens. Satisfied by
// *session.Registry.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.Session, error)
}

// AuthMiddleware validates authentication. Two token forms are accepted in the
// Authorization header: a JWT (issued for service-to-service callers) or an
// opaque session token (issued by the login endpoint). JWTs are tried first
// because they are cheap to reject; anything that does not parse as a JWT is
// treated as a session token.
func AuthMiddleware(userStore UserGetter, sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		// Try JWT first
		if claims, err := auth.ValidateJWT(token); err == nil {
			user, err := userStore.GetUserByID(c.Request.Context(), claims.UserID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to load user",
				})
				return
			}
			if user == nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid token",
				})
				return
			}
			if !user.IsActive {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "Account is deactivated",
				})
				return
			}

			c.Set("user", user)
			c.Set("user_id", user.ID)
			c.Set("auth_method", "jwt")
			c.Next()
			return
		}

		// Fall back to opaque session token
		sess, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrSessionExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Session expired",
				})
			case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, users.ErrUserNotFound):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid or expired token",
				})
			case errors.Is(err, users.ErrUserInactive):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "Account is deactivated",
				})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to validate session",
				})
			}
			return
		}

		user, err := userStore.GetUserByID(c.Request.Context(), sess.UserID)
		if err != nil || user == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load user",
			})
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Set("session", sess)
		c.Set("auth_method", "session")
		c.Next()
	}
}

// CurrentUser returns the authenticated user stored by AuthMiddleware, or nil
// when the request is unauthenticated.
func CurrentUser(c *gin.Context) *models.User {
	val, exists := c.Get("user")
	if !exists {
		return nil
	}
	user, ok := val.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// CurrentSession returns the session stored by AuthMiddleware when the request
// authenticated with an opaque session token, or nil for JWT requests.
func CurrentSession(c *gin.Context) *models.Session {
	val, exists := c.Get("session")
	if !exists {
		return nil
	}
	sess, ok := val.(*models.Session)
	if !ok {
		return nil
	}
	return sess
}
