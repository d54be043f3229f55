// session_repository.go implements SessionRepository, providing database queries for
// server-side sessions: creation, token lookup, activity stamping, deactivation, and
// the bulk sweeps the background expiry job relies on.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/querygate/querygate/internal/db/models"
)

// SessionRepository handles session database operations
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, token, is_active, ip_address, user_agent,
		created_at, last_activity_at, expires_at`

func scanSession(row interface{ Scan(...interface{}) error }) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Token,
		&s.IsActive,
		&s.IPAddress,
		&s.UserAgent,
		&s.CreatedAt,
		&s.LastActivityAt,
		&s.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSession creates a new session
func (r *SessionRepository) CreateSession(ctx context.Context, session *models.Session) error {
	session.ID = uuid.New().String()
	session.CreatedAt = time.Now()
	session.LastActivityAt = session.CreatedAt

	query := `
		INSERT INTO sessions (id, user_id, token, is_active, ip_address, user_agent,
			created_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Token,
		session.IsActive,
		session.IPAddress,
		session.UserAgent,
		session.CreatedAt,
		session.LastActivityAt,
		session.ExpiresAt,
	)

	return err
}

// GetSessionByToken retrieves a session by its opaque token
func (r *SessionRepository) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, token))
}

// GetSessionByID retrieves a session by ID
func (r *SessionRepository) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.db.QueryRowContext(ctx, query, sessionID))
}

// ListActiveByUser retrieves a user's active sessions ordered by most recent activity first
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active
		ORDER BY last_activity_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// TouchSession updates the last-activity timestamp
func (r *SessionRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, sessionID, at)
	return err
}

// ExtendSession updates the expiry deadline and last-activity timestamp
func (r *SessionRepository) ExtendSession(ctx context.Context, sessionID string, expiresAt, at time.Time) error {
	query := `UPDATE sessions SET expires_at = $2, last_activity_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, sessionID, expiresAt, at)
	return err
}

// DeactivateSession marks a single session inactive
func (r *SessionRepository) DeactivateSession(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET is_active = FALSE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, sessionID)
	return err
}

// DeactivateUserSessions marks all of a user's active sessions inactive, optionally
// keeping one session (the caller's own) alive. Returns the number deactivated.
func (r *SessionRepository) DeactivateUserSessions(ctx context.Context, userID string, excludeSessionID string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if excludeSessionID == "" {
		query := `UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active`
		res, err = r.db.ExecContext(ctx, query, userID)
	} else {
		query := `UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active AND id <> $2`
		res, err = r.db.ExecContext(ctx, query, userID, excludeSessionID)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeactivateExpiredSessions marks all sessions past their deadline inactive and
// returns the number swept
func (r *SessionRepository) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	query := `UPDATE sessions SET is_active = FALSE WHERE is_active AND expires_at <= $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountActive returns the number of active sessions across all users
func (r *SessionRepository) CountActive(ctx context.Context) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM sessions WHERE is_active`
	err := r.db.QueryRowContext(ctx, query).Scan(&total)
	return total, err
}

// CountActiveByUser returns the number of active sessions for one user
func (r *SessionRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var total int
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND is_active`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&total)
	return total, err
}
