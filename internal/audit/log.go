package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/varalys/fimwatch/internal/types"
)

// DefaultFile is the audit log name inside the state directory.
const DefaultFile = "fim_audit.jsonl"

// Record types.
const (
	TypeFinding   = "finding"
	TypeBaseline  = "baseline"
	TypeReconcile = "reconcile"
)

// Record is one JSON line of the audit log. Finding records carry the
// throttle and dispatch outcome alongside the finding itself.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Finding   *types.Finding `json:"finding,omitempty"`
	Admitted  bool           `json:"admitted,omitempty"`
	Delivered bool           `json:"delivered,omitempty"`
	Error     string         `json:"error,omitempty"`

	Snapshot string `json:"snapshot,omitempty"`
	Root     string `json:"root,omitempty"`
	Entries  int    `json:"entries,omitempty"`
	Changes  int    `json:"changes,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// AuditLog appends records to a JSONL file. It is safe for concurrent use.
type AuditLog struct {
	logPath string
	mu      sync.Mutex
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{logPath: path}
}

// Path returns the log file location.
func (a *AuditLog) Path() string { return a.logPath }

// LoadHistory returns all records, newest first. Reading stops at the first
// malformed line.
func (a *AuditLog) LoadHistory() ([]Record, error) {
	f, err := os.Open(a.logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var records []Record
	decoder := json.NewDecoder(f)
	for decoder.More() {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			break
		}
		records = append(records, record)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Log appends record, stamping it with the current time if unset.
func (a *AuditLog) Log(record Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if dir := filepath.Dir(a.logPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create audit dir: %w", err)
		}
	}
	// Restrict permissions to owner-only; records include file digests.
	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(record); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// LogFinding records a finding and what happened to it.
func (a *AuditLog) LogFinding(f types.Finding, admitted, delivered bool, dispatchErr error) error {
	r := Record{Type: TypeFinding, Finding: &f, Admitted: admitted, Delivered: delivered}
	if dispatchErr != nil {
		r.Error = dispatchErr.Error()
	}
	return a.Log(r)
}

// LogBaseline records a committed snapshot.
func (a *AuditLog) LogBaseline(snapshot, root string, entries int, took time.Duration) error {
	return a.Log(Record{
		Type:     TypeBaseline,
		Snapshot: snapshot,
		Root:     root,
		Entries:  entries,
		Duration: took.Round(time.Millisecond).String(),
	})
}

// LogReconcile records a completed reconciliation pass.
func (a *AuditLog) LogReconcile(snapshot string, scanned, changes int, took time.Duration) error {
	return a.Log(Record{
		Type:     TypeReconcile,
		Snapshot: snapshot,
		Entries:  scanned,
		Changes:  changes,
		Duration: took.Round(time.Millisecond).String(),
	})
}

// Findings filters records down to finding records.
func Findings(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Type == TypeFinding && r.Finding != nil {
			out = append(out, r)
		}
	}
	return out
}
