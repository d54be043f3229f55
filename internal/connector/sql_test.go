package connector

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newTestWarehouse(t *testing.T, maxRows int) (*Warehouse, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWarehouseFromDB(sqlx.NewDb(db, "sqlmock"), time.Minute, maxRows), mock
}

// ---------------------------------------------------------------------------
// ListSchemas
// ---------------------------------------------------------------------------

func TestWarehouseListSchemas_Success(t *testing.T) {
	wh, mock := newTestWarehouse(t, 0)

	rows := sqlmock.NewRows([]string{"schema_name"}).
		AddRow("finance").
		AddRow("public").
		AddRow("sales")
	mock.ExpectQuery("SELECT schema_name FROM information_schema.schemata").WillReturnRows(rows)

	schemas, err := wh.ListSchemas(context.Background())
	if err != nil {
		t.Fatalf("ListSchemas() error: %v", err)
	}
	want := []string{"finance", "public", "sales"}
	if !reflect.DeepEqual(schemas, want) {
		t.Errorf("ListSchemas() = %v, want %v", schemas, want)
	}
}

func TestWarehouseListSchemas_DBError(t *testing.T) {
	wh, mock := newTestWarehouse(t, 0)

	mock.ExpectQuery("SELECT schema_name").WillReturnError(errors.New("connection refused"))

	if _, err := wh.ListSchemas(context.Background()); err == nil {
		t.Error("ListSchemas() = nil error, want failure")
	}
}

// ---------------------------------------------------------------------------
// RunQuery
// ---------------------------------------------------------------------------

func TestWarehouseRunQuery_Success(t *testing.T) {
	wh, mock := newTestWarehouse(t, 0)

	rows := sqlmock.NewRows([]string{"region", "total"}).
		AddRow("emea", 1200).
		AddRow("apac", 900)
	mock.ExpectQuery("SELECT region").WillReturnRows(rows)

	result, err := wh.RunQuery(context.Background(), "SELECT region, SUM(amount) AS total FROM sales.orders GROUP BY region")
	if err != nil {
		t.Fatalf("RunQuery() error: %v", err)
	}
	if !reflect.DeepEqual(result.Columns, []string{"region", "total"}) {
		t.Errorf("Columns = %v, want [region total]", result.Columns)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Errorf("RowCount = %d, rows = %d, want 2/2", result.RowCount, len(result.Rows))
	}
	if result.Truncated {
		t.Error("Truncated = true for a result under the cap")
	}
}

func TestWarehouseRunQuery_TruncatesAtMaxRows(t *testing.T) {
	wh, mock := newTestWarehouse(t, 2)

	rows := sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3).AddRow(4)
	mock.ExpectQuery("SELECT id").WillReturnRows(rows)

	result, err := wh.RunQuery(context.Background(), "SELECT id FROM sales.orders")
	if err != nil {
		t.Fatalf("RunQuery() error: %v", err)
	}
	if result.RowCount != 2 {
		t.Errorf("RowCount = %d, want 2 (capped)", result.RowCount)
	}
	if !result.Truncated {
		t.Error("Truncated = false, want true when the cap cuts the result")
	}
}

func TestWarehouseRunQuery_EmptyResult(t *testing.T) {
	wh, mock := newTestWarehouse(t, 0)

	mock.ExpectQuery("SELECT id").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	result, err := wh.RunQuery(context.Background(), "SELECT id FROM sales.orders WHERE 1 = 0")
	if err != nil {
		t.Fatalf("RunQuery() error: %v", err)
	}
	if result.RowCount != 0 || result.Truncated {
		t.Errorf("RowCount = %d, Truncated = %v, want 0/false", result.RowCount, result.Truncated)
	}
	if result.Rows == nil {
		t.Error("Rows = nil, want empty slice")
	}
}

func TestWarehouseRunQuery_DBError(t *testing.T) {
	wh, mock := newTestWarehouse(t, 0)

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	if _, err := wh.RunQuery(context.Background(), "SELECT * FROM sales.missing"); err == nil {
		t.Error("RunQuery() = nil error, want failure")
	}
}
