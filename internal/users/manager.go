// Package users implements account lifecycle management: registration gated
// by an allow list, password authentication, deactivation, and allow-list
// administration. It coordinates the user and allow-list repositories and
// emits an audit record for every security-relevant outcome, including
// failures.
package users

import (
	"context"
	"fmt"
	"time"

	"github.com/querygate/querygate/internal/audit"
	"github.com/querygate/querygate/internal/auth"
	"github.com/querygate/querygate/internal/db/models"
)

// UserStore is the subset of *repositories.UserRepository the manager needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmployeeID(ctx context.Context, employeeID string) (*models.User, error)
	RecordLogin(ctx context.Context, userID string, at time.Time) error
	SetActive(ctx context.Context, userID string, active bool) error
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int, error)
}

// AllowListStore is the subset of *repositories.AllowListRepository the
// manager needs.
type AllowListStore interface {
	Contains(ctx context.Context, employeeID string) (bool, error)
	CreateEntry(ctx context.Context, entry *models.AllowListEntry) error
	DeleteEntry(ctx context.Context, employeeID string) (int, error)
	ListEntries(ctx context.Context, limit, offset int) ([]*models.AllowListEntry, int, error)
}

// SessionInvalidator destroys a user's sessions when the account is
// deactivated. *repositories.SessionRepository satisfies it.
type SessionInvalidator interface {
	DeactivateUserSessions(ctx context.Context, userID string, excludeSessionID string) (int, error)
}

// Auditor records audit events. *audit.Recorder satisfies it.
type Auditor interface {
	Record(ctx context.Context, entry *audit.LogEntry)
}

// Manager handles account registration, authentication, and deactivation.
type Manager struct {
	store     UserStore
	allowList AllowListStore
	sessions  SessionInvalidator
	auditor   Auditor
}

// NewManager creates a Manager. sessions may be nil when session invalidation
// on deactivate is not wanted (e.g. in CLI tools).
func NewManager(store UserStore, allowList AllowListStore, sessions SessionInvalidator, auditor Auditor) *Manager {
	return &Manager{
		store:     store,
		allowList: allowList,
		sessions:  sessions,
		auditor:   auditor,
	}
}

// RegisterParams carries the input for Register.
type RegisterParams struct {
	EmployeeID  string
	Password    string
	DisplayName *string
	Email       *string
	IPAddress   string
}

// Register creates a new account. The employee ID must be well formed, not
// already registered, and present on the allow list.
func (m *Manager) Register(ctx context.Context, params RegisterParams) (*models.User, error) {
	if !models.ValidEmployeeID(params.EmployeeID) {
		return nil, fmt.Errorf("%w: employee ID must be 3-20 characters of letters, digits, hyphen, or underscore", ErrInvalidInput)
	}
	if !models.ValidPassword(params.Password) {
		return nil, fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidInput, models.PasswordMinLength, models.PasswordMaxLength)
	}

	allowed, err := m.allowList.Contains(ctx, params.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check allow list: %w", err)
	}
	if !allowed {
		m.record(ctx, &audit.LogEntry{
			Action:     "user.register",
			ResourceID: params.EmployeeID,
			Success:    false,
			IPAddress:  params.IPAddress,
			Metadata:   map[string]interface{}{"reason": "not_on_allow_list"},
		})
		return nil, ErrNotOnAllowList
	}

	existing, err := m.store.GetUserByEmployeeID(ctx, params.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmployeeIDTaken
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		EmployeeID:   params.EmployeeID,
		PasswordHash: hash,
		DisplayName:  params.DisplayName,
		Email:        params.Email,
		IsActive:     true,
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	m.record(ctx, &audit.LogEntry{
		Action:       "user.register",
		UserID:       user.ID,
		ResourceType: "user",
		ResourceID:   user.EmployeeID,
		Success:      true,
		IPAddress:    params.IPAddress,
	})
	return user, nil
}

// BootstrapAdmin creates the initial admin account, bypassing the allow list.
// The caller is responsible for gating access to this (the bootstrap endpoint
// only accepts it while no users exist).
func (m *Manager) BootstrapAdmin(ctx context.Context, params RegisterParams) (*models.User, error) {
	if !models.ValidEmployeeID(params.EmployeeID) {
		return nil, fmt.Errorf("%w: employee ID must be 3-20 characters of letters, digits, hyphen, or underscore", ErrInvalidInput)
	}
	if !models.ValidPassword(params.Password) {
		return nil, fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidInput, models.PasswordMinLength, models.PasswordMaxLength)
	}

	existing, err := m.store.GetUserByEmployeeID(ctx, params.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmployeeIDTaken
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		EmployeeID:   params.EmployeeID,
		PasswordHash: hash,
		DisplayName:  params.DisplayName,
		Email:        params.Email,
		IsActive:     true,
		IsAdmin:      true,
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	m.record(ctx, &audit.LogEntry{
		Action:       "user.bootstrap",
		UserID:       user.ID,
		ResourceType: "user",
		ResourceID:   user.EmployeeID,
		Success:      true,
		IPAddress:    params.IPAddress,
	})
	return user, nil
}

// Authenticate verifies an employee ID and password pair. It returns the same
// ErrInvalidCredentials for unknown IDs and wrong passwords; an inactive
// account with a correct password is reported as ErrUserInactive.
func (m *Manager) Authenticate(ctx context.Context, employeeID, password, ipAddress string) (*models.User, error) {
	user, err := m.store.GetUserByEmployeeID(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !auth.CheckPassword(password, user.PasswordHash) {
		m.record(ctx, &audit.LogEntry{
			Action:     "auth.login",
			ResourceID: employeeID,
			Success:    false,
			IPAddress:  ipAddress,
			Metadata:   map[string]interface{}{"reason": "invalid_credentials"},
		})
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		m.record(ctx, &audit.LogEntry{
			Action:     "auth.login",
			UserID:     user.ID,
			ResourceID: employeeID,
			Success:    false,
			IPAddress:  ipAddress,
			Metadata:   map[string]interface{}{"reason": "inactive_account"},
		})
		return nil, ErrUserInactive
	}

	if err := m.store.RecordLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	m.record(ctx, &audit.LogEntry{
		Action:     "auth.login",
		UserID:     user.ID,
		ResourceID: employeeID,
		Success:    true,
		IPAddress:  ipAddress,
	})
	return user, nil
}

// GetByID returns the user with the given ID.
func (m *Manager) GetByID(ctx context.Context, userID string) (*models.User, error) {
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Deactivate soft-deletes the account and destroys all of its sessions so the
// user cannot keep working on an already-issued token.
func (m *Manager) Deactivate(ctx context.Context, userID, actorID, ipAddress string) error {
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err := m.store.SetActive(ctx, userID, false); err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}

	if m.sessions != nil {
		if _, err := m.sessions.DeactivateUserSessions(ctx, userID, ""); err != nil {
			return fmt.Errorf("failed to destroy user sessions: %w", err)
		}
	}

	m.record(ctx, &audit.LogEntry{
		Action:       "user.deactivate",
		UserID:       actorID,
		ResourceType: "user",
		ResourceID:   userID,
		Success:      true,
		IPAddress:    ipAddress,
	})
	return nil
}

// List returns a page of users and the total count.
func (m *Manager) List(ctx context.Context, limit, offset int) ([]*models.User, int, error) {
	return m.store.ListUsers(ctx, limit, offset)
}

// ----------------------------------------------------------------------------
// Allow-list administration
// ----------------------------------------------------------------------------

// AllowListAdd puts an employee ID on the registration allow list.
func (m *Manager) AllowListAdd(ctx context.Context, employeeID, note, actorID string) (*models.AllowListEntry, error) {
	if !models.ValidEmployeeID(employeeID) {
		return nil, fmt.Errorf("%w: employee ID must be 3-20 characters of letters, digits, hyphen, or underscore", ErrInvalidInput)
	}

	allowed, err := m.allowList.Contains(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check allow list: %w", err)
	}
	if allowed {
		return nil, ErrAlreadyAllowed
	}

	entry := &models.AllowListEntry{EmployeeID: employeeID}
	if note != "" {
		entry.Note = &note
	}
	if actorID != "" {
		entry.AddedBy = &actorID
	}
	if err := m.allowList.CreateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create allow-list entry: %w", err)
	}

	m.record(ctx, &audit.LogEntry{
		Action:       "allowlist.add",
		UserID:       actorID,
		ResourceType: "allowlist_entry",
		ResourceID:   employeeID,
		Success:      true,
	})
	return entry, nil
}

// AllowListRemove removes an employee ID from the allow list. Existing
// accounts are unaffected; removal only blocks future registration.
func (m *Manager) AllowListRemove(ctx context.Context, employeeID, actorID string) error {
	deleted, err := m.allowList.DeleteEntry(ctx, employeeID)
	if err != nil {
		return fmt.Errorf("failed to delete allow-list entry: %w", err)
	}
	if deleted == 0 {
		return ErrNotOnAllowList
	}

	m.record(ctx, &audit.LogEntry{
		Action:       "allowlist.remove",
		UserID:       actorID,
		ResourceType: "allowlist_entry",
		ResourceID:   employeeID,
		Success:      true,
	})
	return nil
}

// AllowListEntries returns a page of allow-list entries and the total count.
func (m *Manager) AllowListEntries(ctx context.Context, limit, offset int) ([]*models.AllowListEntry, int, error) {
	return m.allowList.ListEntries(ctx, limit, offset)
}

func (m *Manager) record(ctx context.Context, entry *audit.LogEntry) {
	if m.auditor != nil {
		m.auditor.Record(ctx, entry)
	}
}
