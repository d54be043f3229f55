// admin.go implements the admin guard for management endpoints.
//
// Admin status is read from the user row loaded by AuthMiddleware rather than
// being embedded in the token. This is a deliberate design choice: when a
// user's admin flag is revoked, the change takes effect on their next request
// without needing to invalidate or reissue their tokens.

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin rejects requests from non-admin users. Must run after
// AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "User not authenticated",
			})
			return
		}

		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin privileges required",
			})
			return
		}

		c.Next()
	}
}
