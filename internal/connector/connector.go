// Package connector provides access to the analytics warehouse. Warehouse is
// the raw sqlx-backed connector; Filtered wraps any Connector with the safety
// validator and the access-control gate so every statement that reaches the
// warehouse has been classified and authorized. Application code should only
// ever hold a *Filtered.
package connector

import (
	"context"
	"errors"
)

// ErrUnsafeStatement is returned when the safety validator rejects a query
// before it reaches the warehouse.
var ErrUnsafeStatement = errors.New("unsafe SQL statement")

// Result is the outcome of a warehouse query.
type Result struct {
	Columns   []string        `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	RowCount  int             `json:"row_count"`
	Truncated bool            `json:"truncated"`
}

// Connector is a warehouse backend.
type Connector interface {
	// ListSchemas returns every schema the warehouse exposes, sorted.
	ListSchemas(ctx context.Context) ([]string, error)
	// RunQuery executes a statement and returns its rows.
	RunQuery(ctx context.Context, query string) (*Result, error)
	// Close releases the underlying connections.
	Close() error
}
