package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier on the wire.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID string.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware tags every request with an identifier for log and audit
// correlation. An inbound X-Request-ID (from a gateway or the caller) is
// trusted and reused; otherwise a fresh UUID is minted. The ID lands in the
// gin context under RequestIDKey and is echoed on the response so callers can
// quote it when reporting a denied query. Register it before the logging and
// audit middleware so both see the ID.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}
