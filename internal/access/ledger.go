// Package access implements the permission ledger and the access-control
// gate. The ledger owns schema permission grants (create, revoke, extend,
// check) with a short-TTL decision cache; the gate combines ledger decisions
// with account state, system-schema rules, and the statement's required
// privilege level to authorize a query or filter a schema listing.
package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/querygate/querygate/internal/audit"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/users"
)

// GrantStore is the subset of *repositories.PermissionRepository the ledger
// needs.
type GrantStore interface {
	GetActiveGrant(ctx context.Context, userID, schemaName string) (*models.SchemaPermission, error)
	CreateGrant(ctx context.Context, grant *models.SchemaPermission) error
	UpdateGrant(ctx context.Context, grant *models.SchemaPermission) error
	DeactivateGrant(ctx context.Context, userID, schemaName string) (int, error)
	ExtendGrantExpiry(ctx context.Context, userID, schemaName string, expiresAt *time.Time) (int, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*models.SchemaPermission, error)
	ListActiveBySchema(ctx context.Context, schemaName string) ([]*models.SchemaPermission, error)
	DeactivateExpiredGrants(ctx context.Context, now time.Time) (int, error)
}

// Auditor records audit events. *audit.Recorder satisfies it.
type Auditor interface {
	Record(ctx context.Context, entry *audit.LogEntry)
}

// Ledger manages schema permission grants.
type Ledger struct {
	store   GrantStore
	cache   *decisionCache // nil when caching is disabled
	auditor Auditor
	now     func() time.Time
}

// NewLedger creates a Ledger. Caching is enabled when cacheTTL and
// cacheMaxEntries are both positive.
func NewLedger(store GrantStore, cacheTTL time.Duration, cacheMaxEntries int, auditor Auditor) *Ledger {
	l := &Ledger{
		store:   store,
		auditor: auditor,
		now:     time.Now,
	}
	if cacheTTL > 0 && cacheMaxEntries > 0 {
		l.cache = newDecisionCache(cacheTTL, cacheMaxEntries)
	}
	return l
}

// GrantParams carries the input for Grant.
type GrantParams struct {
	UserID     string
	SchemaName string
	Level      models.PermissionLevel
	GrantedBy  string
	ExpiresAt  *time.Time // nil means the grant never expires
}

// Grant gives the user the level on the schema. When an active grant for the
// pair already exists it is updated in place rather than duplicated, so the
// partial unique index on (user_id, schema_name) holds and history stays in
// the audit log instead of the grants table.
func (l *Ledger) Grant(ctx context.Context, params GrantParams) (*models.SchemaPermission, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("%w: user ID is required", users.ErrInvalidInput)
	}
	schemaName := normalizeSchema(params.SchemaName)
	if schemaName == "" {
		return nil, fmt.Errorf("%w: schema name is required", users.ErrInvalidInput)
	}
	if params.Level.Ordinal() == 0 {
		return nil, fmt.Errorf("%w: unknown permission level %q", users.ErrInvalidInput, params.Level)
	}

	grant, err := l.store.GetActiveGrant(ctx, params.UserID, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up grant: %w", err)
	}

	if grant != nil {
		grant.Level = params.Level
		grant.ExpiresAt = params.ExpiresAt
		grant.IsActive = true
		if params.GrantedBy != "" {
			grant.GrantedBy = &params.GrantedBy
		}
		if err := l.store.UpdateGrant(ctx, grant); err != nil {
			return nil, fmt.Errorf("failed to update grant: %w", err)
		}
	} else {
		grant = &models.SchemaPermission{
			UserID:     params.UserID,
			SchemaName: schemaName,
			Level:      params.Level,
			IsActive:   true,
			ExpiresAt:  params.ExpiresAt,
		}
		if params.GrantedBy != "" {
			grant.GrantedBy = &params.GrantedBy
		}
		if err := l.store.CreateGrant(ctx, grant); err != nil {
			return nil, fmt.Errorf("failed to create grant: %w", err)
		}
	}

	l.invalidate(params.UserID)

	l.record(ctx, &audit.LogEntry{
		Action:       "permission.grant",
		UserID:       params.GrantedBy,
		ResourceType: "schema_permission",
		ResourceID:   schemaName,
		Success:      true,
		Metadata: map[string]interface{}{
			"target_user_id": params.UserID,
			"level":          string(params.Level),
		},
	})
	return grant, nil
}

// Revoke deactivates the user's grant on the schema.
func (l *Ledger) Revoke(ctx context.Context, userID, schemaName, actorID string) error {
	schemaName = normalizeSchema(schemaName)

	revoked, err := l.store.DeactivateGrant(ctx, userID, schemaName)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	if revoked == 0 {
		return ErrPermissionNotFound
	}

	l.invalidate(userID)

	l.record(ctx, &audit.LogEntry{
		Action:       "permission.revoke",
		UserID:       actorID,
		ResourceType: "schema_permission",
		ResourceID:   schemaName,
		Success:      true,
		Metadata:     map[string]interface{}{"target_user_id": userID},
	})
	return nil
}

// Extend moves the expiry of an active grant. A nil expiresAt makes the grant
// permanent.
func (l *Ledger) Extend(ctx context.Context, userID, schemaName string, expiresAt *time.Time, actorID string) error {
	schemaName = normalizeSchema(schemaName)

	updated, err := l.store.ExtendGrantExpiry(ctx, userID, schemaName, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to extend grant: %w", err)
	}
	if updated == 0 {
		return ErrPermissionNotFound
	}

	l.invalidate(userID)

	meta := map[string]interface{}{"target_user_id": userID}
	if expiresAt != nil {
		meta["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	l.record(ctx, &audit.LogEntry{
		Action:       "permission.extend",
		UserID:       actorID,
		ResourceType: "schema_permission",
		ResourceID:   schemaName,
		Success:      true,
		Metadata:     meta,
	})
	return nil
}

// Check reports whether the user holds a valid grant covering the required
// level on the schema. An expired or revoked grant never satisfies a check.
func (l *Ledger) Check(ctx context.Context, userID, schemaName string, required models.PermissionLevel) (bool, error) {
	schemaName = normalizeSchema(schemaName)
	key := cacheKey(userID, schemaName, string(required))

	if l.cache != nil {
		if allowed, ok := l.cache.get(key); ok {
			return allowed, nil
		}
	}

	grant, err := l.store.GetActiveGrant(ctx, userID, schemaName)
	if err != nil {
		return false, fmt.Errorf("failed to look up grant: %w", err)
	}

	allowed := grant != nil && grant.IsValid(l.now()) && grant.Level.Covers(required)

	if l.cache != nil {
		// An allow backed by an expiring grant must not be served from cache
		// past the grant's own expiry.
		if allowed && grant.ExpiresAt != nil {
			l.cache.setUntil(key, allowed, *grant.ExpiresAt)
		} else {
			l.cache.set(key, allowed)
		}
	}
	return allowed, nil
}

// ListForUser returns the user's currently valid grants. Rows that are active
// in the store but past their expiry are filtered out.
func (l *Ledger) ListForUser(ctx context.Context, userID string) ([]*models.SchemaPermission, error) {
	grants, err := l.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	valid := grants[:0]
	for _, g := range grants {
		if g.IsValid(now) {
			valid = append(valid, g)
		}
	}
	return valid, nil
}

// ListForSchema returns the currently valid grants on a schema.
func (l *Ledger) ListForSchema(ctx context.Context, schemaName string) ([]*models.SchemaPermission, error) {
	grants, err := l.store.ListActiveBySchema(ctx, normalizeSchema(schemaName))
	if err != nil {
		return nil, err
	}
	now := l.now()
	valid := grants[:0]
	for _, g := range grants {
		if g.IsValid(now) {
			valid = append(valid, g)
		}
	}
	return valid, nil
}

// SweepExpired deactivates grants whose expiry has passed and drops the whole
// decision cache, since any number of users may be affected.
func (l *Ledger) SweepExpired(ctx context.Context) (int, error) {
	n, err := l.store.DeactivateExpiredGrants(ctx, l.now())
	if err != nil {
		return 0, err
	}
	if n > 0 && l.cache != nil {
		l.cache.clear()
	}
	return n, nil
}

func (l *Ledger) invalidate(userID string) {
	if l.cache != nil {
		l.cache.invalidateUser(userID)
	}
}

func (l *Ledger) record(ctx context.Context, entry *audit.LogEntry) {
	if l.auditor != nil {
		l.auditor.Record(ctx, entry)
	}
}

func normalizeSchema(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
