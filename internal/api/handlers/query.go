// query.go implements the warehouse query and schema discovery endpoints.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/connector"
	"github.com/querygate/querygate/internal/middleware"
)

// QueryService is the slice of connector.Filtered the query handlers need.
type QueryService interface {
	RunQuery(ctx context.Context, userID, query string) (*connector.Result, error)
	ListSchemas(ctx context.Context, userID string) ([]string, error)
}

// QueryHandlers handles query execution and schema listing
type QueryHandlers struct {
	warehouse QueryService
}

// NewQueryHandlers creates a new QueryHandlers instance
func NewQueryHandlers(warehouse QueryService) *QueryHandlers {
	return &QueryHandlers{warehouse: warehouse}
}

type queryRequest struct {
	SQL string `json:"sql" binding:"required"`
}

// RunQueryHandler validates, authorizes, and executes a read-only statement
// on behalf of the caller.
// POST /api/v1/query
func (h *QueryHandlers) RunQueryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sql is required"})
			return
		}

		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		result, err := h.warehouse.RunQuery(c.Request.Context(), user.ID, req.SQL)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"columns":   result.Columns,
			"rows":      result.Rows,
			"row_count": result.RowCount,
			"truncated": result.Truncated,
		})
	}
}

// ListSchemasHandler lists the warehouse schemas the caller may read.
// GET /api/v1/schemas
func (h *QueryHandlers) ListSchemasHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		schemas, err := h.warehouse.ListSchemas(c.Request.Context(), user.ID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"schemas": schemas})
	}
}
