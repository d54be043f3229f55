// permission_repository.go implements PermissionRepository, providing database queries
// for schema grants: lookup of the active grant per (user, schema), upserts that reuse
// an existing active row, soft revocation, and the expiry sweep.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/querygate/querygate/internal/db/models"
)

// PermissionRepository handles schema permission database operations
type PermissionRepository struct {
	db *sql.DB
}

// NewPermissionRepository creates a new PermissionRepository
func NewPermissionRepository(db *sql.DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

const permissionColumns = `id, user_id, schema_name, level, granted_by, is_active,
		expires_at, created_at, updated_at`

func scanPermission(row interface{ Scan(...interface{}) error }) (*models.SchemaPermission, error) {
	p := &models.SchemaPermission{}
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.SchemaName,
		&p.Level,
		&p.GrantedBy,
		&p.IsActive,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetActiveGrant retrieves the active grant for a (user, schema) pair.
// Returns nil when no active grant exists; expiry is the caller's concern.
func (r *PermissionRepository) GetActiveGrant(ctx context.Context, userID, schemaName string) (*models.SchemaPermission, error) {
	query := `
		SELECT ` + permissionColumns + `
		FROM schema_permissions
		WHERE user_id = $1 AND schema_name = $2 AND is_active
	`
	return scanPermission(r.db.QueryRowContext(ctx, query, userID, schemaName))
}

// CreateGrant inserts a new grant row
func (r *PermissionRepository) CreateGrant(ctx context.Context, grant *models.SchemaPermission) error {
	grant.ID = uuid.New().String()
	grant.CreatedAt = time.Now()
	grant.UpdatedAt = grant.CreatedAt

	query := `
		INSERT INTO schema_permissions (id, user_id, schema_name, level, granted_by,
			is_active, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		grant.ID,
		grant.UserID,
		grant.SchemaName,
		grant.Level,
		grant.GrantedBy,
		grant.IsActive,
		grant.ExpiresAt,
		grant.CreatedAt,
		grant.UpdatedAt,
	)

	return err
}

// UpdateGrant rewrites the level, grantor, and expiry of an existing grant row
func (r *PermissionRepository) UpdateGrant(ctx context.Context, grant *models.SchemaPermission) error {
	grant.UpdatedAt = time.Now()

	query := `
		UPDATE schema_permissions
		SET level = $2, granted_by = $3, expires_at = $4, is_active = $5, updated_at = $6
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		grant.ID,
		grant.Level,
		grant.GrantedBy,
		grant.ExpiresAt,
		grant.IsActive,
		grant.UpdatedAt,
	)

	return err
}

// DeactivateGrant soft-revokes the active grant for a (user, schema) pair.
// Returns the number of rows affected so callers can distinguish a revoke
// of a missing grant.
func (r *PermissionRepository) DeactivateGrant(ctx context.Context, userID, schemaName string) (int, error) {
	query := `
		UPDATE schema_permissions
		SET is_active = FALSE, updated_at = $3
		WHERE user_id = $1 AND schema_name = $2 AND is_active
	`
	res, err := r.db.ExecContext(ctx, query, userID, schemaName, time.Now())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ExtendGrantExpiry moves the expiry deadline of the active grant for a
// (user, schema) pair. A nil deadline makes the grant permanent.
func (r *PermissionRepository) ExtendGrantExpiry(ctx context.Context, userID, schemaName string, expiresAt *time.Time) (int, error) {
	query := `
		UPDATE schema_permissions
		SET expires_at = $3, updated_at = $4
		WHERE user_id = $1 AND schema_name = $2 AND is_active
	`
	res, err := r.db.ExecContext(ctx, query, userID, schemaName, expiresAt, time.Now())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListActiveByUser retrieves a user's active grants ordered by schema name
func (r *PermissionRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.SchemaPermission, error) {
	query := `
		SELECT ` + permissionColumns + `
		FROM schema_permissions
		WHERE user_id = $1 AND is_active
		ORDER BY schema_name
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make([]*models.SchemaPermission, 0)
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, p)
	}

	return grants, rows.Err()
}

// ListActiveBySchema retrieves the active grants on one schema across all users
func (r *PermissionRepository) ListActiveBySchema(ctx context.Context, schemaName string) ([]*models.SchemaPermission, error) {
	query := `
		SELECT ` + permissionColumns + `
		FROM schema_permissions
		WHERE schema_name = $1 AND is_active
		ORDER BY user_id
	`

	rows, err := r.db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make([]*models.SchemaPermission, 0)
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, p)
	}

	return grants, rows.Err()
}

// DeactivateExpiredGrants soft-revokes all active grants past their deadline and
// returns the number swept
func (r *PermissionRepository) DeactivateExpiredGrants(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE schema_permissions
		SET is_active = FALSE, updated_at = $1
		WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountActive returns the number of active grants across all users
func (r *PermissionRepository) CountActive(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM schema_permissions WHERE is_active`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}
