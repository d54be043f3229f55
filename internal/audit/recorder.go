package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/querygate/querygate/internal/db/models"
)

// Store persists audit records in the control-plane database.
// *repositories.AuditRepository satisfies it.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder writes audit events to the database and optionally ships them to
// external destinations. Recording is best effort: a failure to persist or
// ship an event is logged but never surfaced to the caller, because an audit
// outage must not take user-facing operations down with it.
type Recorder struct {
	store   Store
	shipper Shipper
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. shipper may be nil when no external
// destinations are configured.
func NewRecorder(store Store, shipper Shipper, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, shipper: shipper, logger: logger}
}

// Record persists the entry and fans it out to any configured shippers.
func (r *Recorder) Record(ctx context.Context, entry *LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	row := &models.AuditLog{
		UserID:       optional(entry.UserID),
		Action:       entry.Action,
		ResourceType: optional(entry.ResourceType),
		ResourceID:   optional(entry.ResourceID),
		Success:      entry.Success,
		Metadata:     entry.Metadata,
		IPAddress:    optional(entry.IPAddress),
		CreatedAt:    entry.Timestamp,
	}

	if err := r.store.CreateAuditLog(ctx, row); err != nil {
		r.logger.Error("failed to persist audit log",
			"action", entry.Action,
			"user_id", entry.UserID,
			"error", err)
	}

	if r.shipper != nil {
		if err := r.shipper.Ship(ctx, entry); err != nil {
			r.logger.Error("failed to ship audit log",
				"action", entry.Action,
				"error", err)
		}
	}
}

// Close releases shipper resources.
func (r *Recorder) Close() error {
	if r.shipper == nil {
		return nil
	}
	return r.shipper.Close()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
