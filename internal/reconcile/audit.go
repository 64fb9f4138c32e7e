package reconcile

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/bnzr-team/grinder/internal/core"
)

// Audit event types.
const (
	EventReconcileRun    = "RECONCILE_RUN"
	EventRemediateAttempt = "REMEDIATE_ATTEMPT"
	EventRemediateResult  = "REMEDIATE_RESULT"
)

const auditSchemaVersion = 1

// redactedKeys are stripped from event details before writing.
var redactedKeys = map[string]bool{
	"api_key":       true,
	"api_secret":    true,
	"password":      true,
	"token":         true,
	"signature":     true,
	"authorization": true,
}

// AuditEvent is one JSONL record.
type AuditEvent struct {
	TsMs           int64          `json:"ts_ms"`
	EventType      string         `json:"event_type"`
	RunID          string         `json:"run_id"`
	SchemaVersion  int            `json:"schema_version"`
	Mode           string         `json:"mode"`
	Action         string         `json:"action"`
	Status         string         `json:"status,omitempty"`
	BlockReason    string         `json:"block_reason,omitempty"`
	Symbols        []string       `json:"symbols"`
	MismatchCounts map[string]int `json:"mismatch_counts"`
	Details        map[string]any `json:"details,omitempty"`
}

// AuditConfig tunes the writer.
type AuditConfig struct {
	Path      string
	MaxBytes  int64
	MaxEvents int
	MaxFiles  int
	FailOpen  bool
}

// AuditWriter is the append-only JSONL audit log. Bounded by size and
// event count with numeric-suffix rotation; sensitive fields are
// redacted. Fails open by default: write errors log a warning instead
// of propagating.
type AuditWriter struct {
	mu      sync.Mutex
	config  AuditConfig
	clock   core.Clock
	logger  core.ILogger
	file    *os.File
	bytes   int64
	events  int
	writeErrors int
}

// NewAuditWriter opens (or creates) the log file.
func NewAuditWriter(config AuditConfig, clock core.Clock, logger core.ILogger) (*AuditWriter, error) {
	if config.MaxBytes <= 0 {
		config.MaxBytes = 64 << 20
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = 100_000
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = 5
	}
	w := &AuditWriter{
		config: config,
		clock:  clock,
		logger: logger.WithField("component", "audit_writer"),
	}
	if err := w.open(); err != nil {
		if config.FailOpen {
			w.logger.Warn("audit log unavailable, failing open", "error", err)
			return w, nil
		}
		return nil, err
	}
	return w, nil
}

func (w *AuditWriter) open() error {
	f, err := os.OpenFile(w.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.bytes = info.Size()
	w.events = 0
	return nil
}

// Write appends one event. Sensitive detail keys are redacted and the
// timestamp is stamped from the injected clock when zero.
func (w *AuditWriter) Write(event AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if event.TsMs == 0 {
		event.TsMs = w.clock.NowMs()
	}
	event.SchemaVersion = auditSchemaVersion
	event.Details = redact(event.Details)
	if event.Symbols == nil {
		event.Symbols = []string{}
	}
	if event.MismatchCounts == nil {
		event.MismatchCounts = map[string]int{}
	}

	line, err := json.Marshal(event)
	if err != nil {
		return w.fail(fmt.Errorf("marshal audit event: %w", err))
	}

	if w.file == nil {
		return w.fail(fmt.Errorf("audit log not open"))
	}
	if w.bytes+int64(len(line))+1 > w.config.MaxBytes || w.events >= w.config.MaxEvents {
		if err := w.rotateLocked(); err != nil {
			return w.fail(err)
		}
	}

	n, err := w.file.Write(append(line, '\n'))
	if err != nil {
		return w.fail(fmt.Errorf("write audit event: %w", err))
	}
	w.bytes += int64(n)
	w.events++
	return nil
}

// WriteErrors returns the count of swallowed write failures.
func (w *AuditWriter) WriteErrors() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeErrors
}

func (w *AuditWriter) fail(err error) error {
	w.writeErrors++
	if w.config.FailOpen {
		w.logger.Warn("audit write failed (fail-open)", "error", err)
		return nil
	}
	return err
}

// rotateLocked shifts path -> path.1 -> path.2 ... dropping the oldest.
func (w *AuditWriter) rotateLocked() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	oldest := fmt.Sprintf("%s.%d", w.config.Path, w.config.MaxFiles)
	_ = os.Remove(oldest)
	for i := w.config.MaxFiles - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", w.config.Path, i)
		to := fmt.Sprintf("%s.%d", w.config.Path, i+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	if _, err := os.Stat(w.config.Path); err == nil {
		if err := os.Rename(w.config.Path, w.config.Path+".1"); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}
	return w.open()
}

// Close flushes and closes the log.
func (w *AuditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func redact(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if redactedKeys[k] {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}
