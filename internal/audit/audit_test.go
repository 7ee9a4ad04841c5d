package audit_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/trackd/internal/audit"
	"github.com/basket/trackd/internal/bus"
	"github.com/basket/trackd/internal/entity"
)

type stubStore struct {
	recs []entity.AuditRecord
	err  error
}

func (s *stubStore) AppendAudit(_ context.Context, rec entity.AuditRecord) error {
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func record() entity.AuditRecord {
	return entity.AuditRecord{
		EntityType: entity.KindTask,
		EntityID:   "t-1",
		Actor:      "user:sam",
		Action:     entity.ActionCreate,
		Timestamp:  time.Now().UTC(),
	}
}

func TestRecorder_WritesFileStoreAndBus(t *testing.T) {
	dir := t.TempDir()
	store := &stubStore{}
	b := bus.New()
	sub := b.Subscribe(bus.TopicAuditRecorded)
	defer b.Unsubscribe(sub)

	rec, err := audit.NewRecorder(dir, store, b, 0)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	defer rec.Close()

	if err := rec.Record(context.Background(), record()); err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(store.recs) != 1 || store.recs[0].EntityID != "t-1" {
		t.Errorf("store rows = %v, want one for t-1", store.recs)
	}
	if len(sub.Ch()) != 1 {
		t.Errorf("bus events = %d, want 1", len(sub.Ch()))
	}

	f, err := os.Open(filepath.Join(dir, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("expected one JSONL line")
	}
	var got entity.AuditRecord
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if got.Actor != "user:sam" || got.Action != entity.ActionCreate {
		t.Errorf("unexpected audit line: %+v", got)
	}
	if rec.FailureCount() != 0 {
		t.Errorf("failure count = %d, want 0", rec.FailureCount())
	}
}

func TestRecorder_StoreFailureCountedAndTyped(t *testing.T) {
	dir := t.TempDir()
	store := &stubStore{err: errors.New("disk full")}

	rec, err := audit.NewRecorder(dir, store, nil, 0)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	defer rec.Close()

	err = rec.Record(context.Background(), record())
	var auditErr *entity.AuditError
	if !errors.As(err, &auditErr) {
		t.Fatalf("expected AuditError, got %v", err)
	}
	if rec.FailureCount() != 1 {
		t.Errorf("failure count = %d, want 1", rec.FailureCount())
	}
}
