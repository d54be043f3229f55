// audit.go provides Gin middleware that records authenticated API requests to
// the audit trail. Domain-level events (grants, revocations, denied queries)
// are recorded by the services themselves; this middleware adds the HTTP-level
// trail on top so every mutation has a request record even when a handler
// fails before reaching a service.
package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/audit"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/safego"
)

// AuditRecorder accepts audit entries. Satisfied by *audit.Recorder.
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.LogEntry)
}

// AuditMiddleware records requests after the handler runs. By default only
// successful write operations are logged; AuditConfig can widen that to read
// operations and failed requests.
func AuditMiddleware(recorder AuditRecorder, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request first
		c.Next()

		// Skip OPTIONS always
		if c.Request.Method == "OPTIONS" {
			return
		}

		logReadOps := auditCfg != nil && auditCfg.LogReadOperations
		logFailedReqs := auditCfg != nil && auditCfg.LogFailedRequests

		isReadOp := c.Request.Method == "GET"
		isFailed := c.Writer.Status() >= 400

		if isReadOp && !logReadOps {
			return
		}
		if isFailed && !logFailedReqs {
			return
		}

		entry := &audit.LogEntry{
			Timestamp:    time.Now(),
			Action:       fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path),
			ResourceType: resourceTypeForPath(c.Request.URL.Path),
			Success:      !isFailed,
			IPAddress:    c.ClientIP(),
		}

		if userID, exists := c.Get("user_id"); exists {
			if uid, ok := userID.(string); ok {
				entry.UserID = uid
			}
		}

		metadata := map[string]interface{}{
			"status_code": c.Writer.Status(),
		}
		if authMethod, exists := c.Get("auth_method"); exists {
			metadata["auth_method"] = authMethod
		}
		entry.Metadata = metadata

		// Record off the request path; audit writes must not add latency
		safego.Go("audit-record", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			recorder.Record(ctx, entry)
		})
	}
}

// resourceTypeForPath maps an API path to the resource type recorded in the
// audit log. Unrecognized paths get an empty resource type.
func resourceTypeForPath(path string) string {
	switch {
	case strings.Contains(path, "/query"):
		return "query"
	case strings.Contains(path, "/permissions"):
		return "permission"
	case strings.Contains(path, "/sessions"), strings.Contains(path, "/auth"):
		return "session"
	case strings.Contains(path, "/allowlist"):
		return "allowlist"
	case strings.Contains(path, "/users"):
		return "user"
	case strings.Contains(path, "/schemas"):
		return "schema"
	default:
		return ""
	}
}
