package audit_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/querygate/querygate/internal/audit"
)

// sinkServer is an httptest server that signals each delivery and remembers
// the last request body.
type sinkServer struct {
	*httptest.Server
	delivered chan []byte
	hits      atomic.Int64
}

func newSinkServer(status int) *sinkServer {
	s := &sinkServer{delivered: make(chan []byte, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		w.WriteHeader(status)
		s.delivered <- buf.Bytes()
	}))
	return s
}

func (s *sinkServer) waitForDelivery(t *testing.T) []byte {
	t.Helper()
	select {
	case body := <-s.delivered:
		return body
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

// ---------------------------------------------------------------------------
// NewMultiShipper
// ---------------------------------------------------------------------------

func TestNewMultiShipper_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfgs    []audit.ShipperConfig
		wantErr bool
	}{
		{"nil configs", nil, false},
		{"disabled sink ignored", []audit.ShipperConfig{
			{Enabled: false, Type: "webhook", Webhook: &audit.WebhookConfig{URL: "http://example.com"}},
		}, false},
		{"unknown type", []audit.ShipperConfig{{Enabled: true, Type: "carrier-pigeon"}}, true},
		{"webhook without config", []audit.ShipperConfig{{Enabled: true, Type: "webhook"}}, true},
		{"file without config", []audit.ShipperConfig{{Enabled: true, Type: "file"}}, true},
		{"syslog accepted but skipped", []audit.ShipperConfig{{Enabled: true, Type: "syslog"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, err := audit.NewMultiShipper(tt.cfgs)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := ms.Ship(context.Background(), &audit.LogEntry{Action: "auth.login"}); err != nil {
				t.Errorf("Ship() on sink-less shipper = %v, want nil", err)
			}
			if err := ms.Close(); err != nil {
				t.Errorf("Close() = %v, want nil", err)
			}
		})
	}
}

func TestMultiShipper_OneFailureDoesNotStopOthers(t *testing.T) {
	failing := newSinkServer(http.StatusInternalServerError)
	defer failing.Close()
	healthy := newSinkServer(http.StatusOK)
	defer healthy.Close()

	ms, err := audit.NewMultiShipper([]audit.ShipperConfig{
		{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{URL: failing.URL, Timeout: time.Second}},
		{Enabled: true, Type: "webhook", Webhook: &audit.WebhookConfig{URL: healthy.URL, Timeout: time.Second}},
	})
	if err != nil {
		t.Fatalf("NewMultiShipper error: %v", err)
	}
	defer ms.Close()

	if err := ms.Ship(context.Background(), &audit.LogEntry{Action: "permission.grant"}); err == nil {
		t.Error("Ship() = nil, want error surfaced from failing sink")
	}
	if got := healthy.hits.Load(); got != 1 {
		t.Errorf("healthy sink received %d deliveries, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// WebhookShipper
// ---------------------------------------------------------------------------

func TestWebhookShipper_DeliversEntry(t *testing.T) {
	var contentType string
	delivered := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		w.WriteHeader(http.StatusOK)
		delivered <- buf.Bytes()
	}))
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewWebhookShipper error: %v", err)
	}
	defer ws.Close()

	entry := &audit.LogEntry{Action: "query.denied", UserID: "u1", Success: false}
	if err := ws.Ship(context.Background(), entry); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	var body []byte
	select {
	case body = <-delivered:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}
	var decoded audit.LogEntry
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal delivered entry: %v", err)
	}
	if decoded.Action != "query.denied" || decoded.UserID != "u1" {
		t.Errorf("delivered entry = %+v, want action query.denied for u1", decoded)
	}
}

func TestWebhookShipper_ErrorStatusIsError(t *testing.T) {
	srv := newSinkServer(http.StatusBadGateway)
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{URL: srv.URL, Timeout: 5 * time.Second})
	defer ws.Close()

	if err := ws.Ship(context.Background(), &audit.LogEntry{Action: "auth.login"}); err == nil {
		t.Error("Ship() = nil, want error for 502 response")
	}
}

func TestWebhookShipper_SendsConfiguredHeaders(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Siem-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:     srv.URL,
		Timeout: 5 * time.Second,
		Headers: map[string]string{"X-Siem-Token": "ingest-key"},
	})
	defer ws.Close()

	ws.Ship(context.Background(), &audit.LogEntry{Action: "session.create"})
	if gotToken != "ingest-key" {
		t.Errorf("X-Siem-Token = %q, want ingest-key", gotToken)
	}
}

func TestWebhookShipper_CloseIsIdempotent(t *testing.T) {
	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{URL: "http://localhost:0", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewWebhookShipper: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
	ws.Close() // must not panic
}

// ---------------------------------------------------------------------------
// WebhookShipper batching
// ---------------------------------------------------------------------------

func TestWebhookShipper_FlushesWhenBatchFills(t *testing.T) {
	srv := newSinkServer(http.StatusOK)
	defer srv.Close()

	ws, err := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     1,
		FlushInterval: time.Minute, // only the size trigger should fire
	})
	if err != nil {
		t.Fatalf("NewWebhookShipper error: %v", err)
	}
	defer ws.Close()

	if err := ws.Ship(context.Background(), &audit.LogEntry{Action: "permission.revoke"}); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	body := srv.waitForDelivery(t)
	var batch []audit.LogEntry
	if err := json.Unmarshal(body, &batch); err != nil {
		t.Fatalf("batched delivery is not a JSON array: %v", err)
	}
	if len(batch) != 1 || batch[0].Action != "permission.revoke" {
		t.Errorf("batch = %+v, want one permission.revoke entry", batch)
	}
}

func TestWebhookShipper_FlushesOnInterval(t *testing.T) {
	srv := newSinkServer(http.StatusOK)
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     100, // never fills in this test
		FlushInterval: 50 * time.Millisecond,
	})
	defer ws.Close()

	ws.Ship(context.Background(), &audit.LogEntry{Action: "user.deactivate"})
	srv.waitForDelivery(t)
}

func TestWebhookShipper_FlushesOnClose(t *testing.T) {
	srv := newSinkServer(http.StatusOK)
	defer srv.Close()

	ws, _ := audit.NewWebhookShipper(&audit.WebhookConfig{
		URL:           srv.URL,
		Timeout:       5 * time.Second,
		BatchSize:     100,
		FlushInterval: time.Minute, // the interval never fires in this test
	})

	ws.Ship(context.Background(), &audit.LogEntry{Action: "session.destroy"})
	time.Sleep(50 * time.Millisecond) // let the batch loop dequeue the entry

	ws.Close()
	srv.waitForDelivery(t)
}

// ---------------------------------------------------------------------------
// FileShipper
// ---------------------------------------------------------------------------

func TestFileShipper_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileShipper error: %v", err)
	}

	for i := 0; i < 3; i++ {
		entry := &audit.LogEntry{Action: "query.execute", ResourceID: strconv.Itoa(i), Success: true}
		if err := fs.Ship(context.Background(), entry); err != nil {
			t.Fatalf("Ship(%d) error: %v", i, err)
		}
	}
	if err := fs.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lines := 0
	for scanner.Scan() {
		var decoded audit.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if decoded.ResourceID != strconv.Itoa(lines) {
			t.Errorf("line %d ResourceID = %q, want %d", lines, decoded.ResourceID, lines)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("file has %d lines, want 3", lines)
	}
}

func TestNewFileShipper_MissingParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodir", "audit.log")
	if _, err := audit.NewFileShipper(&audit.FileConfig{Path: path}); err == nil {
		t.Error("expected error for path with nonexistent parent, got nil")
	}
}

func TestFileShipper_RotatesOverSizeLimit(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "audit.log")

	// Seed the file past 1MB so the next write rotates first.
	if err := os.WriteFile(logPath, make([]byte, 1*1024*1024+1), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs, err := audit.NewFileShipper(&audit.FileConfig{Path: logPath, MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewFileShipper: %v", err)
	}
	defer fs.Close()

	if err := fs.Ship(context.Background(), &audit.LogEntry{Action: "auth.login"}); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("live log file missing after rotation: %v", err)
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("backup .1 missing after rotation: %v", err)
	}

	// The fresh file holds only the post-rotation entry.
	info, err := os.Stat(logPath)
	if err == nil && info.Size() > 1024 {
		t.Errorf("live file is %d bytes after rotation, want a single entry", info.Size())
	}
}
