// Package session implements the session registry: opaque-token sessions with
// inactivity timeouts, a per-user concurrent session cap with oldest-activity
// eviction, and lazy expiry. Expired sessions are detected and deactivated at
// validation time; the periodic sweeper in internal/jobs only reclaims rows
// for sessions that are never presented again.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/telemetry"
	"github.com/querygate/querygate/internal/users"
)

// Store is the subset of *repositories.SessionRepository the registry needs.
type Store interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*models.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	ExtendSession(ctx context.Context, sessionID string, expiresAt, at time.Time) error
	DeactivateSession(ctx context.Context, sessionID string) error
	DeactivateUserSessions(ctx context.Context, userID string, excludeSessionID string) (int, error)
	CountActive(ctx context.Context) (int, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
}

// UserGetter resolves session owners. *repositories.UserRepository satisfies it.
type UserGetter interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// Registry manages session lifecycle on top of the session store.
type Registry struct {
	store      Store
	userStore  UserGetter
	timeout    time.Duration
	maxPerUser int
	logger     *slog.Logger
	now        func() time.Time
}

// NewRegistry creates a Registry. timeout is the fixed session lifetime set at
// creation and on refresh; maxPerUser caps concurrent sessions per account.
func NewRegistry(store Store, userStore UserGetter, timeout time.Duration, maxPerUser int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:      store,
		userStore:  userStore,
		timeout:    timeout,
		maxPerUser: maxPerUser,
		logger:     logger,
		now:        time.Now,
	}
}

// Create opens a new session for the user. When the user is at the concurrent
// session cap, the sessions with the oldest activity are evicted to make room.
func (r *Registry) Create(ctx context.Context, userID, ipAddress, userAgent string) (*models.Session, error) {
	user, err := r.userStore.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, users.ErrUserNotFound
	}
	if !user.IsActive {
		return nil, users.ErrUserInactive
	}

	now := r.now().UTC()

	if err := r.evictForRoom(ctx, userID, now); err != nil {
		return nil, err
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	sess := &models.Session{
		UserID:    userID,
		Token:     token,
		IsActive:  true,
		ExpiresAt: now.Add(r.timeout),
	}
	if ipAddress != "" {
		sess.IPAddress = &ipAddress
	}
	if userAgent != "" {
		sess.UserAgent = &userAgent
	}

	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	telemetry.SessionsCreatedTotal.Inc()
	return sess, nil
}

// evictForRoom deactivates the oldest-activity sessions until one slot is free.
// Expired sessions still counted as active rows are the first to go because
// they sort oldest.
func (r *Registry) evictForRoom(ctx context.Context, userID string, now time.Time) error {
	if r.maxPerUser <= 0 {
		return nil
	}

	active, err := r.store.ListActiveByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(active) < r.maxPerUser {
		return nil
	}

	// active is ordered by last_activity_at descending; evict from the tail.
	evictCount := len(active) - r.maxPerUser + 1
	for i := 0; i < evictCount; i++ {
		victim := active[len(active)-1-i]
		if err := r.store.DeactivateSession(ctx, victim.ID); err != nil {
			return fmt.Errorf("failed to evict session: %w", err)
		}
		telemetry.SessionsEvictedTotal.Inc()
		r.logger.Info("evicted session at concurrent cap",
			"user_id", userID,
			"session_id", victim.ID,
			"last_activity_at", victim.LastActivityAt)
	}
	return nil
}

// Validate resolves a token to its live session. Expired sessions are
// deactivated on sight and reported as ErrSessionExpired; the last-activity
// timestamp of a live session is updated best effort.
func (r *Registry) Validate(ctx context.Context, token string) (*models.Session, error) {
	sess, err := r.store.GetSessionByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if sess == nil || !sess.IsActive {
		return nil, ErrSessionNotFound
	}

	now := r.now().UTC()
	if sess.Expired(now) {
		if err := r.store.DeactivateSession(ctx, sess.ID); err != nil {
			r.logger.Warn("failed to deactivate expired session", "session_id", sess.ID, "error", err)
		}
		return nil, ErrSessionExpired
	}

	user, err := r.userStore.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session owner: %w", err)
	}
	if user == nil {
		return nil, users.ErrUserNotFound
	}
	if !user.IsActive {
		return nil, users.ErrUserInactive
	}

	if err := r.store.TouchSession(ctx, sess.ID, now); err != nil {
		r.logger.Warn("failed to update session activity", "session_id", sess.ID, "error", err)
	} else {
		sess.LastActivityAt = now
	}

	return sess, nil
}

// Refresh validates the token and pushes the session deadline out by the
// configured timeout from now.
func (r *Registry) Refresh(ctx context.Context, token string) (*models.Session, error) {
	sess, err := r.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	expiresAt := now.Add(r.timeout)
	if err := r.store.ExtendSession(ctx, sess.ID, expiresAt, now); err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	sess.ExpiresAt = expiresAt
	sess.LastActivityAt = now
	return sess, nil
}

// Destroy deactivates the session for the token. Destroying a token that does
// not resolve to a live session is not an error; logout is idempotent.
func (r *Registry) Destroy(ctx context.Context, token string) error {
	sess, err := r.store.GetSessionByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if sess == nil || !sess.IsActive {
		return nil
	}
	return r.store.DeactivateSession(ctx, sess.ID)
}

// DestroyAllForUser deactivates every active session belonging to the user.
// When keepToken resolves to one of them, that session survives, so a user can
// log everything else out without cutting their own connection.
func (r *Registry) DestroyAllForUser(ctx context.Context, userID, keepToken string) (int, error) {
	excludeID := ""
	if keepToken != "" {
		if sess, err := r.store.GetSessionByToken(ctx, keepToken); err == nil && sess != nil && sess.UserID == userID {
			excludeID = sess.ID
		}
	}
	return r.store.DeactivateUserSessions(ctx, userID, excludeID)
}

// ListForUser returns the user's active sessions, most recently used first.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	return r.store.ListActiveByUser(ctx, userID)
}

// CountActive returns the number of active sessions across all users.
func (r *Registry) CountActive(ctx context.Context) (int, error) {
	return r.store.CountActive(ctx)
}
