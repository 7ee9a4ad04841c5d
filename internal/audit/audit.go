// Package audit emits one record per successful mutation to a JSONL file,
// the store's audit_log table, and the event bus. Emission is bounded by a
// short timeout so a stuck sink can never hold a mutation response
// hostage: the write already succeeded, the audit degrades to "pending".
package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/trackd/internal/bus"
	"github.com/basket/trackd/internal/entity"
)

const defaultTimeout = 2 * time.Second

// Store is the slice of the persistence layer the recorder needs.
type Store interface {
	AppendAudit(ctx context.Context, rec entity.AuditRecord) error
}

// Recorder writes audit records. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	store   Store    // may be nil in tests
	bus     *bus.Bus // may be nil
	timeout time.Duration

	failures atomic.Int64
}

// NewRecorder opens logs/audit.jsonl under the home directory and returns
// a recorder writing to it, the store, and the bus.
func NewRecorder(homeDir string, store Store, eventBus *bus.Bus, timeout time.Duration) (*Recorder, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Recorder{file: f, store: store, bus: eventBus, timeout: timeout}, nil
}

// Close closes the JSONL file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// FailureCount returns the total number of failed emissions since startup.
func (r *Recorder) FailureCount() int64 {
	return r.failures.Load()
}

// Record emits one audit record. A failure is counted and returned as an
// AuditError; callers treat it as non-fatal since the entity write has
// already committed.
func (r *Recorder) Record(ctx context.Context, rec entity.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.appendFile(rec); err != nil {
		r.failures.Add(1)
		return &entity.AuditError{Err: err}
	}
	if r.store != nil {
		if err := r.store.AppendAudit(ctx, rec); err != nil {
			r.failures.Add(1)
			return &entity.AuditError{Err: err}
		}
	}
	if r.bus != nil {
		r.bus.Publish(bus.TopicAuditRecorded, rec)
	}
	return nil
}

func (r *Recorder) appendFile(rec entity.AuditRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	_, err = r.file.Write(append(b, '\n'))
	return err
}
