// metrics.go instruments every request with Prometheus counters. Registered
// in the router before any route handler so nothing escapes measurement.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/telemetry"
)

// MetricsMiddleware records http_requests_total{method, path, status} and
// http_request_duration_seconds{method, path} for each request. The path
// label uses the matched route template (/api/v1/permissions/:user_id/:schema)
// rather than the raw URL, and requests that match no route are labeled
// "<no-route>", so label cardinality stays bounded no matter what clients
// send. Register after gin.Recovery so statuses written by the panic handler
// are counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
