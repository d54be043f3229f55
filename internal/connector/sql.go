package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/querygate/querygate/internal/config"
)

// Warehouse is the sqlx-backed analytics warehouse connector. It enforces the
// configured per-query timeout and row cap but performs no authorization; that
// is Filtered's job.
type Warehouse struct {
	db           *sqlx.DB
	queryTimeout time.Duration
	maxRows      int
}

// NewWarehouse opens a connection pool against the analytics DSN.
func NewWarehouse(cfg config.AnalyticsConfig) (*Warehouse, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to analytics warehouse: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	return NewWarehouseFromDB(db, cfg.QueryTimeout, cfg.MaxRows), nil
}

// NewWarehouseFromDB wraps an existing handle. Used by tests.
func NewWarehouseFromDB(db *sqlx.DB, queryTimeout time.Duration, maxRows int) *Warehouse {
	return &Warehouse{db: db, queryTimeout: queryTimeout, maxRows: maxRows}
}

// ListSchemas returns the warehouse's schemas in name order.
func (w *Warehouse) ListSchemas(ctx context.Context) ([]string, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	var schemas []string
	err := w.db.SelectContext(ctx, &schemas,
		"SELECT schema_name FROM information_schema.schemata ORDER BY schema_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	return schemas, nil
}

// RunQuery executes the statement and collects up to the configured row cap.
// When the cap cuts the result short, Truncated is set so the caller can tell
// a capped result from a complete one.
func (w *Warehouse) RunQuery(ctx context.Context, query string) (*Result, error) {
	ctx, cancel := w.withTimeout(ctx)
	defer cancel()

	rows, err := w.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &Result{Columns: columns, Rows: make([][]interface{}, 0)}
	for rows.Next() {
		if w.maxRows > 0 && result.RowCount >= w.maxRows {
			result.Truncated = true
			break
		}
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result.Rows = append(result.Rows, values)
		result.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return result, nil
}

// Close releases the connection pool.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

func (w *Warehouse) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.queryTimeout)
}
