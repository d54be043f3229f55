// permissions.go implements the schema permission endpoints. Grant, revoke,
// and extend are admin-only; the router mounts them behind RequireAdmin.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/access"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/middleware"
)

// PermissionService is the slice of access.Ledger the permission handlers need.
type PermissionService interface {
	Grant(ctx context.Context, params access.GrantParams) (*models.SchemaPermission, error)
	Revoke(ctx context.Context, userID, schemaName, actorID string) error
	Extend(ctx context.Context, userID, schemaName string, expiresAt *time.Time, actorID string) error
	Check(ctx context.Context, userID, schemaName string, required models.PermissionLevel) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]*models.SchemaPermission, error)
	ListForSchema(ctx context.Context, schemaName string) ([]*models.SchemaPermission, error)
}

// PermissionHandlers handles schema permission endpoints
type PermissionHandlers struct {
	ledger PermissionService
}

// NewPermissionHandlers creates a new PermissionHandlers instance
func NewPermissionHandlers(ledger PermissionService) *PermissionHandlers {
	return &PermissionHandlers{ledger: ledger}
}

type grantRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	SchemaName string `json:"schema_name" binding:"required"`
	Level      string `json:"level" binding:"required"`
	ExpiresAt  string `json:"expires_at"` // RFC3339, empty means no expiry
}

type extendRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	SchemaName string `json:"schema_name" binding:"required"`
	ExpiresAt  string `json:"expires_at"` // RFC3339, empty clears the expiry
}

// GrantHandler grants or updates a user's permission on a schema.
// POST /api/v1/permissions
func (h *PermissionHandlers) GrantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req grantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, schema_name and level are required"})
			return
		}

		level, ok := models.ParsePermissionLevel(req.Level)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "level must be one of: read, write, admin"})
			return
		}

		expiresAt, err := parseOptionalTime(req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be an RFC3339 timestamp"})
			return
		}

		actor := middleware.CurrentUser(c)
		grant, err := h.ledger.Grant(c.Request.Context(), access.GrantParams{
			UserID:     req.UserID,
			SchemaName: req.SchemaName,
			Level:      level,
			GrantedBy:  actor.ID,
			ExpiresAt:  expiresAt,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"permission": permissionResponse(grant)})
	}
}

// RevokeHandler revokes a user's permission on a schema.
// DELETE /api/v1/permissions/:user_id/:schema
func (h *PermissionHandlers) RevokeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		err := h.ledger.Revoke(c.Request.Context(), c.Param("user_id"), c.Param("schema"), actor.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ExtendHandler moves or clears the expiry on an active grant.
// PUT /api/v1/permissions/expiry
func (h *PermissionHandlers) ExtendHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req extendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and schema_name are required"})
			return
		}

		expiresAt, err := parseOptionalTime(req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be an RFC3339 timestamp"})
			return
		}

		actor := middleware.CurrentUser(c)
		if err := h.ledger.Extend(c.Request.Context(), req.UserID, req.SchemaName, expiresAt, actor.ID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListForUserHandler lists a user's valid grants.
// GET /api/v1/permissions/users/:user_id
func (h *PermissionHandlers) ListForUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		grants, err := h.ledger.ListForUser(c.Request.Context(), c.Param("user_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"permissions": permissionListResponse(grants)})
	}
}

// ListForSchemaHandler lists the valid grants on a schema.
// GET /api/v1/permissions/schemas/:schema
func (h *PermissionHandlers) ListForSchemaHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		grants, err := h.ledger.ListForSchema(c.Request.Context(), c.Param("schema"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"permissions": permissionListResponse(grants)})
	}
}

// CheckHandler answers whether a user holds a level on a schema.
// GET /api/v1/permissions/check?user_id=&schema=&level=
func (h *PermissionHandlers) CheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		schema := c.Query("schema")
		if userID == "" || schema == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and schema query parameters are required"})
			return
		}

		levelStr := c.DefaultQuery("level", string(models.LevelRead))
		level, ok := models.ParsePermissionLevel(levelStr)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "level must be one of: read, write, admin"})
			return
		}

		allowed, err := h.ledger.Check(c.Request.Context(), userID, schema, level)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"allowed": allowed})
	}
}

// MyPermissionsHandler lists the caller's own valid grants.
// GET /api/v1/permissions/me
func (h *PermissionHandlers) MyPermissionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.CurrentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		grants, err := h.ledger.ListForUser(c.Request.Context(), user.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"permissions": permissionListResponse(grants)})
	}
}

func parseOptionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func permissionResponse(p *models.SchemaPermission) gin.H {
	out := gin.H{
		"id":          p.ID,
		"user_id":     p.UserID,
		"schema_name": p.SchemaName,
		"level":       p.Level,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	}
	if p.GrantedBy != nil {
		out["granted_by"] = *p.GrantedBy
	}
	if p.ExpiresAt != nil {
		out["expires_at"] = *p.ExpiresAt
	}
	return out
}

func permissionListResponse(grants []*models.SchemaPermission) []gin.H {
	out := make([]gin.H, 0, len(grants))
	for _, g := range grants {
		out = append(out, permissionResponse(g))
	}
	return out
}
