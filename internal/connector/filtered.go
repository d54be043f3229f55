package connector

import (
	"context"
	"fmt"

	"github.com/querygate/querygate/internal/audit"
	"github.com/querygate/querygate/internal/sqlguard"
	"github.com/querygate/querygate/internal/telemetry"
)

// Authorizer is the gate surface Filtered needs. *access.Gate satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, userID, query string) error
	FilterSchemas(ctx context.Context, userID string, available []string) ([]string, error)
}

// Auditor records audit events. *audit.Recorder satisfies it.
type Auditor interface {
	Record(ctx context.Context, entry *audit.LogEntry)
}

// Filtered is the only warehouse surface handed to request handlers. Every
// statement passes the safety validator and then the access-control gate
// before it is delegated; schema listings are reduced to what the caller may
// see.
type Filtered struct {
	backend   Connector
	gate      Authorizer
	validator *sqlguard.Validator
	auditor   Auditor
}

// NewFiltered wraps a backend connector with validation and authorization.
func NewFiltered(backend Connector, gate Authorizer, auditor Auditor) *Filtered {
	return &Filtered{
		backend:   backend,
		gate:      gate,
		validator: sqlguard.NewValidator(),
		auditor:   auditor,
	}
}

// ListSchemas returns the schemas visible to the user.
func (f *Filtered) ListSchemas(ctx context.Context, userID string) ([]string, error) {
	available, err := f.backend.ListSchemas(ctx)
	if err != nil {
		return nil, err
	}
	return f.gate.FilterSchemas(ctx, userID, available)
}

// RunQuery validates, authorizes, and executes a statement on behalf of the
// user. Denials are audited with the reason; the statement text itself is
// recorded so denied queries can be reviewed.
func (f *Filtered) RunQuery(ctx context.Context, userID, query string) (*Result, error) {
	verdict := f.validator.Classify(query)
	if !verdict.Safe {
		telemetry.UnsafeStatementsTotal.WithLabelValues(verdict.Code).Inc()
		f.record(ctx, &audit.LogEntry{
			Action:       "query.denied",
			UserID:       userID,
			ResourceType: "query",
			Success:      false,
			Metadata: map[string]interface{}{
				"reason": verdict.Reason,
				"query":  query,
			},
		})
		return nil, fmt.Errorf("%w: %s", ErrUnsafeStatement, verdict.Reason)
	}

	if err := f.gate.Authorize(ctx, userID, query); err != nil {
		f.record(ctx, &audit.LogEntry{
			Action:       "query.denied",
			UserID:       userID,
			ResourceType: "query",
			Success:      false,
			Metadata: map[string]interface{}{
				"reason": err.Error(),
				"query":  query,
			},
		})
		return nil, err
	}

	result, err := f.backend.RunQuery(ctx, query)
	if err != nil {
		f.record(ctx, &audit.LogEntry{
			Action:       "query.execute",
			UserID:       userID,
			ResourceType: "query",
			Success:      false,
			Metadata:     map[string]interface{}{"error": err.Error()},
		})
		return nil, err
	}

	f.record(ctx, &audit.LogEntry{
		Action:       "query.execute",
		UserID:       userID,
		ResourceType: "query",
		Success:      true,
		Metadata: map[string]interface{}{
			"row_count": result.RowCount,
			"truncated": result.Truncated,
		},
	})
	return result, nil
}

// Close releases the backend.
func (f *Filtered) Close() error {
	return f.backend.Close()
}

func (f *Filtered) record(ctx context.Context, entry *audit.LogEntry) {
	if f.auditor != nil {
		f.auditor.Record(ctx, entry)
	}
}
