// setup.go provides middleware for authenticating first-run bootstrap requests.
// The bootstrap endpoint creates the initial admin account and uses a separate
// authentication scheme ("Authorization: Bootstrap <token>") that is independent
// of the normal JWT/session auth chain. The token comes from configuration and
// the endpoint is permanently disabled once any user exists.
package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// BootstrapContextKey is the context key set when a request is authenticated
// via bootstrap token.
const BootstrapContextKey = "is_bootstrap_request"

// UserCounter reports how many users exist. Satisfied by
// *repositories.UserRepository.
type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

// bootstrapRateLimiter tracks per-IP attempt counts to prevent brute-force
// attacks on the bootstrap token. Allows maxAttempts per window per IP.
type bootstrapRateLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newBootstrapRateLimiter() *bootstrapRateLimiter {
	return &bootstrapRateLimiter{
		attempts: make(map[string][]time.Time),
	}
}

const (
	bootstrapMaxAttempts = 5
	bootstrapRateWindow  = time.Minute
)

// allow returns true if the IP has not exceeded the rate limit.
func (rl *bootstrapRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-bootstrapRateWindow)

	// Prune old entries
	recent := make([]time.Time, 0, len(rl.attempts[ip]))
	for _, t := range rl.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= bootstrapMaxAttempts {
		rl.attempts[ip] = recent
		return false
	}

	rl.attempts[ip] = append(recent, now)
	return true
}

// BootstrapTokenMiddleware validates bootstrap token authentication. It checks that:
//  1. A bootstrap token is configured (returns 403 if not).
//  2. No user account exists yet (returns 403 once any user does).
//  3. The IP is not rate-limited (max 5 attempts per minute).
//  4. The Authorization header contains a valid "Bootstrap <token>" value.
//
// On success, sets BootstrapContextKey=true in the gin context and calls c.Next().
func BootstrapTokenMiddleware(userStore UserCounter, configuredToken string) gin.HandlerFunc {
	rateLimiter := newBootstrapRateLimiter()

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// 1. Without a configured token the endpoint does not exist as far as
		// callers are concerned
		if configuredToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Bootstrap is disabled. Set security.bootstrap_token to enable it.",
			})
			return
		}

		// 2. Once any user exists the bootstrap window is permanently closed
		count, err := userStore.Count(ctx)
		if err != nil {
			slog.Error("bootstrap middleware: failed to count users", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to check bootstrap status",
			})
			return
		}
		if count > 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Bootstrap has already been completed. This endpoint is permanently disabled.",
			})
			return
		}

		// 3. Rate limit check before comparing tokens
		clientIP := c.ClientIP()
		if !rateLimiter.allow(clientIP) {
			slog.Warn("bootstrap middleware: rate limit exceeded", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many bootstrap token attempts. Try again in one minute.",
			})
			return
		}

		// 4. Extract and verify the token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required. Use: Authorization: Bootstrap <token>",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bootstrap") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization scheme. Use: Authorization: Bootstrap <token>",
			})
			return
		}
		rawToken := strings.TrimSpace(parts[1])

		if subtle.ConstantTimeCompare([]byte(rawToken), []byte(configuredToken)) != 1 {
			slog.Warn("bootstrap middleware: invalid bootstrap token", "ip", clientIP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid bootstrap token",
			})
			return
		}

		c.Set(BootstrapContextKey, true)
		c.Next()
	}
}
