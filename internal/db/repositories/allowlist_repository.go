// allowlist_repository.go implements AllowListRepository, providing database queries
// for the registration allow-list. Built on sqlx since the entry model maps 1:1 to
// its table and needs no manual scan plumbing.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/querygate/querygate/internal/db/models"
)

// AllowListRepository handles registration allow-list database operations
type AllowListRepository struct {
	db *sqlx.DB
}

// NewAllowListRepository creates a new AllowListRepository
func NewAllowListRepository(db *sqlx.DB) *AllowListRepository {
	return &AllowListRepository{db: db}
}

// Contains reports whether an employee ID is on the allow-list
func (r *AllowListRepository) Contains(ctx context.Context, employeeID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM allowlist_entries WHERE employee_id = $1)`
	err := r.db.GetContext(ctx, &exists, query, employeeID)
	return exists, err
}

// GetByEmployeeID retrieves an allow-list entry, or nil when absent
func (r *AllowListRepository) GetByEmployeeID(ctx context.Context, employeeID string) (*models.AllowListEntry, error) {
	entry := &models.AllowListEntry{}
	query := `
		SELECT id, employee_id, note, added_by, created_at
		FROM allowlist_entries
		WHERE employee_id = $1
	`
	err := r.db.GetContext(ctx, entry, query, employeeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreateEntry adds an employee ID to the allow-list
func (r *AllowListRepository) CreateEntry(ctx context.Context, entry *models.AllowListEntry) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	query := `
		INSERT INTO allowlist_entries (id, employee_id, note, added_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.EmployeeID,
		entry.Note,
		entry.AddedBy,
		entry.CreatedAt,
	)

	return err
}

// DeleteEntry removes an employee ID from the allow-list. Returns the number of
// rows deleted so callers can report a missing entry.
func (r *AllowListRepository) DeleteEntry(ctx context.Context, employeeID string) (int, error) {
	query := `DELETE FROM allowlist_entries WHERE employee_id = $1`
	res, err := r.db.ExecContext(ctx, query, employeeID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListEntries retrieves a paginated list of allow-list entries with the total count
func (r *AllowListRepository) ListEntries(ctx context.Context, limit, offset int) ([]*models.AllowListEntry, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM allowlist_entries`
	if err := r.db.GetContext(ctx, &total, countQuery); err != nil {
		return nil, 0, err
	}

	entries := make([]*models.AllowListEntry, 0)
	query := `
		SELECT id, employee_id, note, added_by, created_at
		FROM allowlist_entries
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	if err := r.db.SelectContext(ctx, &entries, query, limit, offset); err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}
