// admin.go implements the administrative endpoints: user management, the
// registration allow list, and the audit log. The router mounts all of these
// behind RequireAdmin.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/db/repositories"
	"github.com/querygate/querygate/internal/middleware"
)

// AdminUserService is the slice of users.Manager the admin handlers need.
type AdminUserService interface {
	List(ctx context.Context, limit, offset int) ([]*models.User, int, error)
	Deactivate(ctx context.Context, userID, actorID, ipAddress string) error
	AllowListAdd(ctx context.Context, employeeID, note, actorID string) (*models.AllowListEntry, error)
	AllowListRemove(ctx context.Context, employeeID, actorID string) error
	AllowListEntries(ctx context.Context, limit, offset int) ([]*models.AllowListEntry, int, error)
}

// AuditLogStore is the slice of AuditRepository the admin handlers need.
type AuditLogStore interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
	GetAuditLog(ctx context.Context, logID string) (*models.AuditLog, error)
}

// AdminHandlers handles administrative endpoints
type AdminHandlers struct {
	users AdminUserService
	audit AuditLogStore
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(userService AdminUserService, auditStore AuditLogStore) *AdminHandlers {
	return &AdminHandlers{users: userService, audit: auditStore}
}

// ListUsersHandler lists registered users with pagination.
// GET /api/v1/admin/users?limit=&offset=
func (h *AdminHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := parsePagination(c)

		list, total, err := h.users.List(c.Request.Context(), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}

		out := make([]gin.H, 0, len(list))
		for _, u := range list {
			out = append(out, userResponse(u))
		}
		c.JSON(http.StatusOK, gin.H{
			"users":  out,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// DeactivateUserHandler deactivates a user account. Existing sessions stop
// validating on their next request.
// POST /api/v1/admin/users/:user_id/deactivate
func (h *AdminHandlers) DeactivateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		targetID := c.Param("user_id")
		if targetID == actor.ID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot deactivate your own account"})
			return
		}

		if err := h.users.Deactivate(c.Request.Context(), targetID, actor.ID, c.ClientIP()); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type allowListAddRequest struct {
	EmployeeID string `json:"employee_id" binding:"required"`
	Note       string `json:"note"`
}

// ListAllowListHandler lists registration allow list entries.
// GET /api/v1/admin/allowlist?limit=&offset=
func (h *AdminHandlers) ListAllowListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := parsePagination(c)

		entries, total, err := h.users.AllowListEntries(c.Request.Context(), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}

		out := make([]gin.H, 0, len(entries))
		for _, e := range entries {
			out = append(out, allowListEntryResponse(e))
		}
		c.JSON(http.StatusOK, gin.H{
			"entries": out,
			"total":   total,
			"limit":   limit,
			"offset":  offset,
		})
	}
}

// AddAllowListHandler allow-lists an employee ID for registration.
// POST /api/v1/admin/allowlist
func (h *AdminHandlers) AddAllowListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req allowListAddRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "employee_id is required"})
			return
		}

		actor := middleware.CurrentUser(c)
		entry, err := h.users.AllowListAdd(c.Request.Context(), req.EmployeeID, req.Note, actor.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"entry": allowListEntryResponse(entry)})
	}
}

// RemoveAllowListHandler removes an employee ID from the allow list. Already
// registered users are unaffected.
// DELETE /api/v1/admin/allowlist/:employee_id
func (h *AdminHandlers) RemoveAllowListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := middleware.CurrentUser(c)
		if err := h.users.AllowListRemove(c.Request.Context(), c.Param("employee_id"), actor.ID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListAuditLogsHandler lists audit log entries, newest first, with optional
// filters.
// GET /api/v1/admin/audit-logs?user_id=&action=&resource_type=&success=&start_date=&end_date=&limit=&offset=
func (h *AdminHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := parsePagination(c)

		filters, err := parseAuditFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		logs, total, err := h.audit.ListAuditLogs(c.Request.Context(), filters, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}

		out := make([]gin.H, 0, len(logs))
		for _, l := range logs {
			out = append(out, auditLogResponse(l))
		}
		c.JSON(http.StatusOK, gin.H{
			"logs":   out,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// GetAuditLogHandler fetches a single audit log entry.
// GET /api/v1/admin/audit-logs/:log_id
func (h *AdminHandlers) GetAuditLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		log, err := h.audit.GetAuditLog(c.Request.Context(), c.Param("log_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if log == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit log entry not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"log": auditLogResponse(log)})
	}
}

// parsePagination reads limit and offset query parameters, clamping limit to
// [1, 200] with a default of 50.
func parsePagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil && v > 0 {
		limit = v
	}
	if limit > 200 {
		limit = 200
	}
	if v, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func parseAuditFilters(c *gin.Context) (repositories.AuditFilters, error) {
	var filters repositories.AuditFilters
	if v := c.Query("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("resource_type"); v != "" {
		filters.ResourceType = &v
	}
	if v := c.Query("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filters, errInvalidFilter("success must be true or false")
		}
		filters.Success = &b
	}
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errInvalidFilter("start_date must be an RFC3339 timestamp")
		}
		filters.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errInvalidFilter("end_date must be an RFC3339 timestamp")
		}
		filters.EndDate = &t
	}
	return filters, nil
}

type errInvalidFilter string

func (e errInvalidFilter) Error() string { return string(e) }

func allowListEntryResponse(e *models.AllowListEntry) gin.H {
	out := gin.H{
		"id":          e.ID,
		"employee_id": e.EmployeeID,
		"created_at":  e.CreatedAt,
	}
	if e.Note != nil {
		out["note"] = *e.Note
	}
	if e.AddedBy != nil {
		out["added_by"] = *e.AddedBy
	}
	return out
}

func auditLogResponse(l *models.AuditLog) gin.H {
	out := gin.H{
		"id":         l.ID,
		"action":     l.Action,
		"success":    l.Success,
		"created_at": l.CreatedAt,
	}
	if l.UserID != nil {
		out["user_id"] = *l.UserID
	}
	if l.ResourceType != nil {
		out["resource_type"] = *l.ResourceType
	}
	if l.ResourceID != nil {
		out["resource_id"] = *l.ResourceID
	}
	if l.IPAddress != nil {
		out["ip_address"] = *l.IPAddress
	}
	if len(l.Metadata) > 0 {
		out["metadata"] = l.Metadata
	}
	return out
}
