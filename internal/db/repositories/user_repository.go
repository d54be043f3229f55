// Package repositories implements the data access layer (repository pattern) for the
// access-control store. Each repository type encapsulates all database queries for a
// domain entity. Services never issue SQL directly; all database access goes through
// this layer, which makes query logic testable in isolation and prevents accidental
// cross-domain data access.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/querygate/querygate/internal/db/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, employee_id, password_hash, display_name, email,
		is_active, is_admin, login_count, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.EmployeeID,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Email,
		&user.IsActive,
		&user.IsAdmin,
		&user.LoginCount,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateUser creates a new user
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	query := `
		INSERT INTO users (id, employee_id, password_hash, display_name, email,
			is_active, is_admin, login_count, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.EmployeeID,
		user.PasswordHash,
		user.DisplayName,
		user.Email,
		user.IsActive,
		user.IsAdmin,
		user.LoginCount,
		user.LastLoginAt,
		user.CreatedAt,
		user.UpdatedAt,
	)

	return err
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, userID))
}

// GetUserByEmployeeID retrieves a user by employee ID
func (r *UserRepository) GetUserByEmployeeID(ctx context.Context, employeeID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE employee_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, employeeID))
}

// UpdateUser updates a user's mutable profile fields
func (r *UserRepository) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET display_name = $2, email = $3, is_active = $4, is_admin = $5, updated_at = $6
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.DisplayName,
		user.Email,
		user.IsActive,
		user.IsAdmin,
		user.UpdatedAt,
	)

	return err
}

// RecordLogin bumps the login counter and stamps the last login time
func (r *UserRepository) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	query := `
		UPDATE users
		SET login_count = login_count + 1, last_login_at = $2, updated_at = $2
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, userID, at)
	return err
}

// SetActive activates or deactivates a user. Deactivation is a soft delete;
// the row is kept so audit history stays attributable.
func (r *UserRepository) SetActive(ctx context.Context, userID string, active bool) error {
	query := `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, active, time.Now())
	return err
}

// ListUsers retrieves a paginated list of users with the total count
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM users`
	err := r.db.QueryRowContext(ctx, countQuery).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	return users, total, rows.Err()
}

// Count returns the total number of users
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM users`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}

// CountActive returns the number of active users
func (r *UserRepository) CountActive(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM users WHERE is_active`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}
