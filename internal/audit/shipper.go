// Package audit emits structured records for security-relevant events:
// authentication attempts, grants and revocations, denied queries, session
// lifecycle changes. Audit records are kept apart from application logs
// because they serve different consumers. Application logs are ephemeral
// debug output; audit records are evidence, with retention measured in years.
// The Recorder persists every record to the control-plane database and can
// additionally route copies to external sinks (file, webhook) through the
// Shipper interface.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// LogEntry is one audit record.
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Success      bool                   `json:"success"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Shipper delivers audit records to an external sink.
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// ShipperConfig selects and configures one sink.
type ShipperConfig struct {
	Enabled bool           `json:"enabled"`
	Type    string         `json:"type"` // "webhook", "file", or "syslog"
	Syslog  *SyslogConfig  `json:"syslog,omitempty"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`
	File    *FileConfig    `json:"file,omitempty"`
}

// SyslogConfig describes a syslog sink. Accepted in configuration for
// operators migrating from syslog pipelines but not yet implemented.
type SyslogConfig struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Tag      string `json:"tag"`
	Facility string `json:"facility"`
}

// WebhookConfig describes an HTTP sink, typically a SIEM ingest endpoint.
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout"`
	// BatchSize > 0 batches entries before POSTing; 0 sends each immediately.
	BatchSize     int           `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// FileConfig describes a line-delimited JSON file sink with size rotation.
type FileConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// MultiShipper fans one record out to every enabled sink.
type MultiShipper struct {
	shippers []Shipper
}

// buildShipper constructs one sink from its config. A nil return with nil
// error means the sink type is recognized but not supported.
func buildShipper(cfg ShipperConfig) (Shipper, error) {
	switch cfg.Type {
	case "syslog":
		slog.Warn("syslog audit shipper is not implemented, skipping")
		return nil, nil
	case "webhook":
		if cfg.Webhook == nil {
			return nil, fmt.Errorf("webhook shipper enabled without webhook config")
		}
		return NewWebhookShipper(cfg.Webhook)
	case "file":
		if cfg.File == nil {
			return nil, fmt.Errorf("file shipper enabled without file config")
		}
		return NewFileShipper(cfg.File)
	default:
		return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
	}
}

// NewMultiShipper builds the enabled sinks. A misconfigured sink fails
// construction rather than being silently dropped.
func NewMultiShipper(configs []ShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		shipper, err := buildShipper(cfg)
		if err != nil {
			return nil, fmt.Errorf("building %s audit shipper: %w", cfg.Type, err)
		}
		if shipper != nil {
			ms.shippers = append(ms.shippers, shipper)
		}
	}
	return ms, nil
}

// Ship delivers the entry to every sink. One sink failing does not stop the
// others; the combined failure is returned so the recorder can count it.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	var errs []error
	for _, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			slog.Error("audit shipper failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (ms *MultiShipper) Close() error {
	var errs []error
	for _, shipper := range ms.shippers {
		errs = append(errs, shipper.Close())
	}
	return errors.Join(errs...)
}

// WebhookShipper POSTs records to an HTTP endpoint, optionally batched.
type WebhookShipper struct {
	cfg    *WebhookConfig
	client *http.Client

	queue     chan *LogEntry
	pending   []*LogEntry
	pendingMu sync.Mutex

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebhookShipper creates the sink and starts its batch loop when batching
// is configured.
func NewWebhookShipper(cfg *WebhookConfig) (*WebhookShipper, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ws := &WebhookShipper{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		queue:   make(chan *LogEntry, 1000),
		closeCh: make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		go ws.batchLoop()
	}

	return ws, nil
}

func (ws *WebhookShipper) batchLoop() {
	interval := ws.cfg.FlushInterval
	if interval == 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.queue:
			ws.pendingMu.Lock()
			ws.pending = append(ws.pending, entry)
			if len(ws.pending) >= ws.cfg.BatchSize {
				ws.flushLocked()
			}
			ws.pendingMu.Unlock()
		case <-ticker.C:
			ws.pendingMu.Lock()
			ws.flushLocked()
			ws.pendingMu.Unlock()
		case <-ws.closeCh:
			ws.pendingMu.Lock()
			ws.flushLocked()
			ws.pendingMu.Unlock()
			return
		}
	}
}

// flushLocked posts the pending batch. Callers hold pendingMu. The batch is
// dropped after a failed POST; the database copy written by the Recorder is
// the durable record, the webhook is best-effort.
func (ws *WebhookShipper) flushLocked() {
	if len(ws.pending) == 0 {
		return
	}

	data, err := json.Marshal(ws.pending)
	if err != nil {
		slog.Error("failed to marshal audit batch", "error", err)
		ws.pending = ws.pending[:0]
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.client.Timeout)
	defer cancel()

	if err := ws.post(ctx, data); err != nil {
		slog.Error("failed to send audit batch", "error", err, "entries", len(ws.pending))
	}

	ws.pending = ws.pending[:0]
}

// Ship queues the entry when batching, or POSTs it immediately. A full queue
// falls back to a direct POST rather than blocking the caller.
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.queue <- entry:
			return nil
		default:
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return ws.post(ctx, data)
}

func (ws *WebhookShipper) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any pending batch and stops the batch loop.
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	return nil
}

// FileShipper appends records as line-delimited JSON, rotating by size.
type FileShipper struct {
	cfg  *FileConfig
	mu   sync.Mutex
	file *os.File
}

// NewFileShipper opens (or creates) the audit file, owner-readable only.
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship appends one JSON line, rotating first when the file is over size.
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		if info, err := fs.file.Stat(); err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Error("failed to rotate audit log", "error", err, "path", fs.cfg.Path)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, moves the live file to path.1, and opens
// a fresh file. Callers hold fs.mu.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(
			fmt.Sprintf("%s.%d", fs.cfg.Path, i),
			fmt.Sprintf("%s.%d", fs.cfg.Path, i+1),
		)
	}
	_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")

	if fs.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the audit file.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
