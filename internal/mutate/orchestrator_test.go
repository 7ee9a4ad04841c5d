package mutate_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/basket/trackd/internal/entity"
	"github.com/basket/trackd/internal/mutate"
)

type fakeStore struct {
	entities map[entity.Kind]map[string]entity.Entity
	upserts  int
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entities: map[entity.Kind]map[string]entity.Entity{
		entity.KindTask:    {},
		entity.KindProject: {},
		entity.KindInsight: {},
	}}
}

func (s *fakeStore) Get(_ context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	e, ok := s.entities[kind][id]
	if !ok {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, entity.ErrNotFound)
	}
	return e, nil
}

func (s *fakeStore) Upsert(_ context.Context, kind entity.Kind, e entity.Entity) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.upserts++
	s.entities[kind][e.EntityID()] = e
	return nil
}

func (s *fakeStore) Delete(_ context.Context, kind entity.Kind, id string) error {
	if _, ok := s.entities[kind][id]; !ok {
		return fmt.Errorf("delete %s %s: %w", kind, id, entity.ErrNotFound)
	}
	delete(s.entities[kind], id)
	return nil
}

type fakeAuditor struct {
	recs []entity.AuditRecord
	err  error
}

func (a *fakeAuditor) Record(_ context.Context, rec entity.AuditRecord) error {
	if a.err != nil {
		return a.err
	}
	a.recs = append(a.recs, rec)
	return nil
}

var testClock = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newOrchestrator(store *fakeStore, auditor *fakeAuditor) *mutate.Orchestrator {
	return mutate.New(mutate.Config{
		Store: store,
		Audit: auditor,
		Now:   func() time.Time { return testClock },
		NewID: func() string { return "fixed-id" },
	})
}

func TestCreate_TaskDefaultsAndStamping(t *testing.T) {
	store := newFakeStore()
	auditor := &fakeAuditor{}
	orch := newOrchestrator(store, auditor)

	e, err := orch.Create(context.Background(), entity.KindTask, map[string]any{"title": "file taxes"}, "user:sam")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	task := e.(*entity.Task)
	if task.Status != entity.TaskStatusInbox || task.Priority != entity.PriorityNormal {
		t.Errorf("defaults = %s/%s, want inbox/normal", task.Status, task.Priority)
	}
	if task.ID != "fixed-id" {
		t.Errorf("id = %q, want generated", task.ID)
	}
	if !task.CreatedAt.Equal(testClock) || !task.UpdatedAt.Equal(task.CreatedAt) {
		t.Errorf("timestamps = %v / %v, want both %v", task.CreatedAt, task.UpdatedAt, testClock)
	}
	if len(auditor.recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(auditor.recs))
	}
	rec := auditor.recs[0]
	if rec.Action != entity.ActionCreate || rec.Actor != "user:sam" || rec.Before != nil || rec.After == nil {
		t.Errorf("unexpected audit record: %+v", rec)
	}
}

func TestCreate_SuppliedStatusMustBeReachableFromInbox(t *testing.T) {
	tests := []struct {
		status string
		wantOK bool
	}{
		{"inbox", true},
		{"available", true},
		{"scheduled", false},
		{"completed", false},
		{"dropped", true},
	}
	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			orch := newOrchestrator(newFakeStore(), &fakeAuditor{})
			_, err := orch.Create(context.Background(), entity.KindTask,
				map[string]any{"title": "x", "status": tc.status}, "user:sam")
			if tc.wantOK && err != nil {
				t.Fatalf("create with status %s: %v", tc.status, err)
			}
			if !tc.wantOK {
				var trErr *entity.TransitionError
				if !errors.As(err, &trErr) {
					t.Fatalf("expected TransitionError, got %v", err)
				}
			}
		})
	}
}

func TestCreate_ActorRequired(t *testing.T) {
	orch := newOrchestrator(newFakeStore(), &fakeAuditor{})
	_, err := orch.Create(context.Background(), entity.KindTask, map[string]any{"title": "x"}, "")
	var vErr *entity.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for missing actor, got %v", err)
	}
}

func TestCreate_DanglingProjectRejectedBeforeWrite(t *testing.T) {
	store := newFakeStore()
	auditor := &fakeAuditor{}
	orch := newOrchestrator(store, auditor)

	_, err := orch.Create(context.Background(), entity.KindTask,
		map[string]any{"title": "x", "project_id": "ghost"}, "user:sam")
	var refErr *entity.ReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("expected ReferenceError, got %v", err)
	}
	if refErr.Kind != entity.KindProject || refErr.ID != "ghost" {
		t.Errorf("reference error = %+v", refErr)
	}
	if store.upserts != 0 {
		t.Error("task was written despite dangling project reference")
	}
	if len(auditor.recs) != 0 {
		t.Error("audit emitted despite rejected mutation")
	}
}

func TestCreate_AuditFailureIsNonFatal(t *testing.T) {
	store := newFakeStore()
	auditor := &fakeAuditor{err: &entity.AuditError{Err: errors.New("sink down")}}
	orch := newOrchestrator(store, auditor)

	e, err := orch.Create(context.Background(), entity.KindTask, map[string]any{"title": "x"}, "user:sam")
	if err != nil {
		t.Fatalf("create should succeed despite audit failure, got %v", err)
	}
	if _, ok := store.entities[entity.KindTask][e.EntityID()]; !ok {
		t.Error("entity not committed")
	}
}

func TestUpdate_LifecycleSequence(t *testing.T) {
	store := newFakeStore()
	orch := newOrchestrator(store, &fakeAuditor{})
	ctx := context.Background()

	e, err := orch.Create(ctx, entity.KindTask, map[string]any{"title": "ship release"}, "user:sam")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := e.EntityID()

	for _, status := range []string{"available", "scheduled", "completed"} {
		e, err = orch.Update(ctx, entity.KindTask, id, map[string]any{"status": status}, "user:sam")
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
		if got := e.(*entity.Task).Status; got != entity.TaskStatus(status) {
			t.Fatalf("status = %s, want %s", got, status)
		}
	}

	// Terminal: no way back without the reopen policy.
	_, err = orch.Update(ctx, entity.KindTask, id, map[string]any{"status": "available"}, "user:sam")
	var trErr *entity.TransitionError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransitionError from completed, got %v", err)
	}
	if trErr.From != entity.TaskStatusCompleted || trErr.To != entity.TaskStatusAvailable {
		t.Errorf("transition error = %+v", trErr)
	}
}

func TestUpdate_ReopenPolicy(t *testing.T) {
	store := newFakeStore()
	orch := newOrchestrator(store, &fakeAuditor{})
	ctx := context.Background()

	e, _ := orch.Create(ctx, entity.KindTask, map[string]any{"title": "x"}, "user:sam")
	id := e.EntityID()
	for _, status := range []string{"available", "scheduled", "completed"} {
		if _, err := orch.Update(ctx, entity.KindTask, id, map[string]any{"status": status}, "user:sam"); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	if _, err := orch.Update(ctx, entity.KindTask, id, map[string]any{"status": "inbox"}, "user:sam"); err == nil {
		t.Fatal("reopen succeeded with policy disabled")
	}

	orch.SetAllowReopen(true)
	e, err := orch.Update(ctx, entity.KindTask, id, map[string]any{"status": "inbox"}, "user:sam")
	if err != nil {
		t.Fatalf("reopen with policy enabled: %v", err)
	}
	if e.(*entity.Task).Status != entity.TaskStatusInbox {
		t.Errorf("status after reopen = %s, want inbox", e.(*entity.Task).Status)
	}
}

func TestUpdate_PatchMergePreservesUnpatchedFields(t *testing.T) {
	store := newFakeStore()
	orch := newOrchestrator(store, &fakeAuditor{})
	ctx := context.Background()

	e, err := orch.Create(ctx, entity.KindTask, map[string]any{
		"title": "write report",
		"notes": "quarterly",
		"tags":  []any{"work", "writing"},
	}, "user:sam")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := orch.Update(ctx, entity.KindTask, e.EntityID(), map[string]any{
		"title":      "write annual report",
		"created_at": "1999-01-01T00:00:00Z",
	}, "user:sam")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	task := updated.(*entity.Task)
	if task.Title != "write annual report" {
		t.Errorf("title = %q", task.Title)
	}
	if task.Notes != "quarterly" || len(task.Tags) != 2 {
		t.Errorf("unpatched fields lost: notes=%q tags=%v", task.Notes, task.Tags)
	}
	if !task.CreatedAt.Equal(testClock) {
		t.Errorf("created_at changed on update: %v", task.CreatedAt)
	}
	if !task.UpdatedAt.Equal(testClock) {
		t.Errorf("updated_at = %v, want orchestrator clock", task.UpdatedAt)
	}
}

func TestUpdate_NullClearsField(t *testing.T) {
	store := newFakeStore()
	orch := newOrchestrator(store, &fakeAuditor{})
	ctx := context.Background()

	project, err := orch.Create(ctx, entity.KindProject,
		map[string]any{"name": "home", "type": "parallel"}, "user:sam")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	e, err := orch.Create(ctx, entity.KindTask, map[string]any{
		"title":      "fix gutter",
		"project_id": project.EntityID(),
		"due_date":   "2026-09-15T00:00:00Z",
	}, "user:sam")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	updated, err := orch.Update(ctx, entity.KindTask, e.EntityID(),
		map[string]any{"due_date": nil, "project_id": nil}, "user:sam")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	task := updated.(*entity.Task)
	if task.DueDate != nil {
		t.Errorf("due_date not cleared: %v", task.DueDate)
	}
	if task.ProjectID != "" {
		t.Errorf("project_id not cleared: %q", task.ProjectID)
	}
}

func TestUpdate_UnknownEntity(t *testing.T) {
	orch := newOrchestrator(newFakeStore(), &fakeAuditor{})
	_, err := orch.Update(context.Background(), entity.KindTask, "missing",
		map[string]any{"title": "x"}, "user:sam")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_AuditsBeforeSnapshot(t *testing.T) {
	store := newFakeStore()
	auditor := &fakeAuditor{}
	orch := newOrchestrator(store, auditor)
	ctx := context.Background()

	e, _ := orch.Create(ctx, entity.KindTask, map[string]any{"title": "x"}, "user:sam")
	if err := orch.Delete(ctx, entity.KindTask, e.EntityID(), "user:sam"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(store.entities[entity.KindTask]) != 0 {
		t.Error("entity still present after delete")
	}
	if len(auditor.recs) != 2 {
		t.Fatalf("audit records = %d, want 2", len(auditor.recs))
	}
	rec := auditor.recs[1]
	if rec.Action != entity.ActionDelete || rec.Before == nil || rec.After != nil {
		t.Errorf("unexpected delete audit record: %+v", rec)
	}
}

func TestCreate_StoreFailureMapsToStorageError(t *testing.T) {
	store := newFakeStore()
	store.failWith = errors.New("database is locked")
	orch := newOrchestrator(store, &fakeAuditor{})

	_, err := orch.Create(context.Background(), entity.KindTask, map[string]any{"title": "x"}, "user:sam")
	var stErr *entity.StorageError
	if !errors.As(err, &stErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}
