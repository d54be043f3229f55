package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/db/models"
	"github.com/querygate/querygate/internal/sqlguard"
	"github.com/querygate/querygate/internal/telemetry"
	"github.com/querygate/querygate/internal/users"
)

// UserGetter resolves users for authorization. *repositories.UserRepository
// satisfies it.
type UserGetter interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// PermissionChecker is the ledger surface the gate needs. *Ledger satisfies it.
type PermissionChecker interface {
	Check(ctx context.Context, userID, schemaName string, required models.PermissionLevel) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]*models.SchemaPermission, error)
}

// Gate makes the per-query authorization decision. It is a pure decision
// component: it inspects the statement for referenced schemas and the
// privilege level it would need, then checks the caller's account state and
// grants. Statement safety (SELECT-only, forbidden keywords) is enforced
// separately on the execution path.
type Gate struct {
	users  UserGetter
	ledger PermissionChecker
	cfg    config.PermissionsConfig
}

// NewGate creates a Gate.
func NewGate(userStore UserGetter, ledger PermissionChecker, cfg config.PermissionsConfig) *Gate {
	return &Gate{users: userStore, ledger: ledger, cfg: cfg}
}

// Decision is the full outcome of an authorization check: the verdict plus
// the partition of the statement's schemas into those the user may touch and
// those that blocked it.
type Decision struct {
	Allowed        bool
	Message        string
	AllowedSchemas []string
	BlockedSchemas []string
}

// Authorize decides whether the user may run the statement. It resolves the
// account, extracts the schemas the statement touches, and requires a covering
// grant (or a standing rule) for each one at the statement's privilege level.
// Any store failure denies: authorization never fails open.
func (g *Gate) Authorize(ctx context.Context, userID, query string) error {
	_, err := g.Decide(ctx, userID, query)
	return err
}

// Decide is Authorize with the schema partition exposed. A denial over
// ungranted schemas names every blocked schema, not just the first, so the
// caller can report the whole problem at once.
func (g *Gate) Decide(ctx context.Context, userID, query string) (Decision, error) {
	required := sqlguard.RequiredLevel(query)

	decision, err := g.decide(ctx, userID, query, required)
	outcome := "allow"
	if err != nil {
		outcome = "deny"
	}
	telemetry.AuthzDecisionsTotal.WithLabelValues(outcome, string(required)).Inc()
	return decision, err
}

func (g *Gate) decide(ctx context.Context, userID, query string, required models.PermissionLevel) (Decision, error) {
	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		return g.denied(fmt.Errorf("failed to look up user: %w", err))
	}
	if user == nil {
		return g.denied(users.ErrUserNotFound)
	}
	if !user.IsActive {
		return g.denied(users.ErrUserInactive)
	}

	schemas := sqlguard.ExtractSchemas(query)
	if len(schemas) == 0 {
		if g.cfg.StrictCheck {
			return g.denied(fmt.Errorf("%w: statement references no recognizable schema", ErrSchemaAccessDenied))
		}
		return Decision{Allowed: true}, nil
	}

	var allowed, blocked []string
	for _, schema := range schemas {
		err := g.checkSchema(ctx, user, schema, required)
		switch {
		case err == nil:
			allowed = append(allowed, schema)
		case errors.Is(err, ErrSchemaAccessDenied):
			blocked = append(blocked, schema)
		default:
			// System catalog denials and store failures end the decision;
			// there is no partition to report.
			return g.denied(err)
		}
	}

	if len(blocked) > 0 {
		err := fmt.Errorf("%w: %s", ErrSchemaAccessDenied, strings.Join(blocked, ", "))
		return Decision{
			Message:        err.Error(),
			AllowedSchemas: allowed,
			BlockedSchemas: blocked,
		}, err
	}
	return Decision{Allowed: true, AllowedSchemas: allowed}, nil
}

func (g *Gate) denied(err error) (Decision, error) {
	return Decision{Message: err.Error()}, err
}

func (g *Gate) checkSchema(ctx context.Context, user *models.User, schema string, required models.PermissionLevel) error {
	// Blocked schemas are denied for everyone, admins included.
	if containsSchema(g.cfg.BlockedSchemas, schema) {
		return fmt.Errorf("%w: %s", ErrSchemaAccessDenied, schema)
	}

	if sqlguard.IsSystemSchema(schema) {
		if user.IsAdmin {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSystemTableAccessDenied, schema)
	}

	if !g.cfg.SchemaIsolationEnabled {
		return nil
	}

	// Public and default-access schemas confer read to everyone, so a schema
	// visible through FilterSchemas is also queryable at read level.
	if required == models.LevelRead &&
		(containsSchema(g.cfg.PublicSchemas, schema) || containsSchema(g.cfg.DefaultSchemas, schema)) {
		return nil
	}

	if user.IsAdmin && g.cfg.InheritAdminPermissions && containsSchema(g.cfg.AdminSchemas, schema) {
		return nil
	}

	allowed, err := g.ledger.Check(ctx, user.ID, schema, required)
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s", ErrSchemaAccessDenied, schema)
	}
	return nil
}

// FilterSchemas reduces the warehouse's schema listing to what the user may
// see. An inactive account sees an empty list, never an error, so listing
// endpoints degrade quietly. The result preserves the order of available.
func (g *Gate) FilterSchemas(ctx context.Context, userID string, available []string) ([]string, error) {
	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, users.ErrUserNotFound
	}
	if !user.IsActive {
		return []string{}, nil
	}

	if !g.cfg.SchemaIsolationEnabled {
		visible := make([]string, 0, len(available))
		for _, schema := range available {
			if !containsSchema(g.cfg.BlockedSchemas, schema) {
				visible = append(visible, schema)
			}
		}
		return visible, nil
	}

	grants, err := g.ledger.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	granted := make(map[string]bool, len(grants))
	for _, grant := range grants {
		granted[grant.SchemaName] = true
	}

	visible := make([]string, 0, len(available))
	for _, schema := range available {
		if containsSchema(g.cfg.BlockedSchemas, schema) {
			continue
		}
		if sqlguard.IsSystemSchema(schema) {
			if user.IsAdmin {
				visible = append(visible, schema)
			}
			continue
		}
		switch {
		case containsSchema(g.cfg.PublicSchemas, schema):
			visible = append(visible, schema)
		case containsSchema(g.cfg.DefaultSchemas, schema):
			visible = append(visible, schema)
		case user.IsAdmin && g.cfg.InheritAdminPermissions && containsSchema(g.cfg.AdminSchemas, schema):
			visible = append(visible, schema)
		case granted[normalizeSchema(schema)]:
			visible = append(visible, schema)
		}
	}
	return visible, nil
}

func containsSchema(list []string, schema string) bool {
	schema = normalizeSchema(schema)
	for _, s := range list {
		if normalizeSchema(s) == schema {
			return true
		}
	}
	return false
}
