// Package mutate is the write path for tracked entities. Every mutation
// runs a fixed gate pipeline: schema validation, task state-machine check,
// referential project check, id/timestamp stamping, store write, then a
// bounded audit emission. Failure at any gate aborts with no partial
// write; audit failure after a committed write is non-fatal but counted.
package mutate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/basket/trackd/internal/bus"
	"github.com/basket/trackd/internal/entity"
	"github.com/basket/trackd/internal/shared"
	"github.com/basket/trackd/internal/validate"
	"github.com/google/uuid"
)

// Store is the slice of the persistence layer the orchestrator consumes.
type Store interface {
	Get(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error)
	Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) error
	Delete(ctx context.Context, kind entity.Kind, id string) error
}

// Auditor records one audit entry per committed mutation.
type Auditor interface {
	Record(ctx context.Context, rec entity.AuditRecord) error
}

// Config holds the orchestrator's dependencies.
type Config struct {
	Store  Store
	Audit  Auditor
	Bus    *bus.Bus // optional; entity topics are published when set
	Logger *slog.Logger

	// AllowReopen permits terminal tasks (completed/dropped) to move back
	// to inbox. Policy-configurable; off by default.
	AllowReopen bool

	// Now and NewID are test seams; defaults are the UTC clock and
	// random UUIDs.
	Now   func() time.Time
	NewID func() string
}

// Orchestrator owns identifier generation and timestamp stamping; callers
// never supply updated_at, and created_at is honored only on create.
type Orchestrator struct {
	store   Store
	auditor Auditor
	bus     *bus.Bus
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu          sync.RWMutex
	allowReopen bool
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:       cfg.Store,
		auditor:     cfg.Audit,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		now:         cfg.Now,
		newID:       cfg.NewID,
		allowReopen: cfg.AllowReopen,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// SetAllowReopen flips the reopen policy at runtime (config hot reload).
func (o *Orchestrator) SetAllowReopen(v bool) {
	o.mu.Lock()
	o.allowReopen = v
	o.mu.Unlock()
}

func (o *Orchestrator) reopenAllowed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.allowReopen
}

// Create validates and writes a new entity. The caller's created_at is
// honored when present; updated_at always equals created_at on create.
func (o *Orchestrator) Create(ctx context.Context, kind entity.Kind, candidate map[string]any, actor string) (entity.Entity, error) {
	if actor == "" {
		return nil, &entity.ValidationError{Fields: []entity.FieldError{{Field: "actor", Reason: "required on every mutation"}}}
	}
	_, statusSupplied := candidate["status"]

	e, verr := validate.Validate(kind, candidate)
	if verr != nil {
		return nil, verr
	}

	if task, ok := e.(*entity.Task); ok {
		// A supplied creation status must be reachable from inbox.
		if statusSupplied && task.Status != entity.TaskStatusInbox {
			if !entity.CanTransition(entity.TaskStatusInbox, task.Status) {
				return nil, &entity.TransitionError{From: entity.TaskStatusInbox, To: task.Status}
			}
		}
		if err := o.checkProjectRef(ctx, task.ProjectID); err != nil {
			return nil, err
		}
	}

	now := o.now()
	switch v := e.(type) {
	case *entity.Task:
		if v.ID == "" {
			v.ID = o.newID()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = v.CreatedAt
	case *entity.Project:
		if v.ID == "" {
			v.ID = o.newID()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = v.CreatedAt
	case *entity.Insight:
		if v.ID == "" {
			v.ID = o.newID()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		v.UpdatedAt = v.CreatedAt
	}

	if err := o.store.Upsert(ctx, kind, e); err != nil {
		return nil, mapStoreError("create "+string(kind), err)
	}

	o.emitAudit(ctx, entity.ActionCreate, kind, e.EntityID(), actor, nil, e)
	o.publish(bus.TopicEntityCreated, kind, e.EntityID(), entity.ActionCreate, actor)
	return e, nil
}

// Update merges a patch onto the stored entity, re-validates the merged
// candidate, and enforces the task state machine on status changes.
func (o *Orchestrator) Update(ctx context.Context, kind entity.Kind, id string, patch map[string]any, actor string) (entity.Entity, error) {
	if actor == "" {
		return nil, &entity.ValidationError{Fields: []entity.FieldError{{Field: "actor", Reason: "required on every mutation"}}}
	}

	existing, err := o.store.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
		return nil, mapStoreError("load "+string(kind), err)
	}

	merged, err := mergePatch(existing, patch)
	if err != nil {
		return nil, err
	}
	e, verr := validate.Validate(kind, merged)
	if verr != nil {
		return nil, verr
	}

	if task, ok := e.(*entity.Task); ok {
		old := existing.(*entity.Task)
		if err := o.checkStatusChange(old.Status, task.Status); err != nil {
			return nil, err
		}
		if task.ProjectID != "" && task.ProjectID != old.ProjectID {
			if err := o.checkProjectRef(ctx, task.ProjectID); err != nil {
				return nil, err
			}
		}
	}

	stampUpdate(e, id, existing.CreatedTime(), o.now())

	if err := o.store.Upsert(ctx, kind, e); err != nil {
		return nil, mapStoreError("update "+string(kind), err)
	}

	o.emitAudit(ctx, entity.ActionUpdate, kind, id, actor, existing, e)
	o.publish(bus.TopicEntityUpdated, kind, id, entity.ActionUpdate, actor)
	return e, nil
}

// Delete removes an entity and audits the removal with a before snapshot.
func (o *Orchestrator) Delete(ctx context.Context, kind entity.Kind, id string, actor string) error {
	if actor == "" {
		return &entity.ValidationError{Fields: []entity.FieldError{{Field: "actor", Reason: "required on every mutation"}}}
	}

	existing, err := o.store.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return err
		}
		return mapStoreError("load "+string(kind), err)
	}

	if err := o.store.Delete(ctx, kind, id); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return err
		}
		return mapStoreError("delete "+string(kind), err)
	}

	o.emitAudit(ctx, entity.ActionDelete, kind, id, actor, existing, nil)
	o.publish(bus.TopicEntityDeleted, kind, id, entity.ActionDelete, actor)
	return nil
}

// checkStatusChange enforces the task state machine. A same-status patch
// is a no-op, not a transition.
func (o *Orchestrator) checkStatusChange(from, to entity.TaskStatus) error {
	if from == to {
		return nil
	}
	if entity.Terminal(from) {
		if o.reopenAllowed() && to == entity.TaskStatusInbox {
			return nil
		}
		return &entity.TransitionError{From: from, To: to}
	}
	if !entity.CanTransition(from, to) {
		return &entity.TransitionError{From: from, To: to}
	}
	return nil
}

// checkProjectRef is a best-effort pre-check; the store's foreign key can
// still reject a concurrent delete and maps to the same error kind.
func (o *Orchestrator) checkProjectRef(ctx context.Context, projectID string) error {
	if projectID == "" {
		return nil
	}
	_, err := o.store.Get(ctx, entity.KindProject, projectID)
	if errors.Is(err, entity.ErrNotFound) {
		return &entity.ReferenceError{Kind: entity.KindProject, ID: projectID}
	}
	if err != nil {
		return mapStoreError("check project reference", err)
	}
	return nil
}

func (o *Orchestrator) emitAudit(ctx context.Context, action entity.Action, kind entity.Kind, id, actor string, before, after entity.Entity) {
	if o.auditor == nil {
		return
	}
	rec := entity.AuditRecord{
		EntityType: kind,
		EntityID:   id,
		Actor:      actor,
		Action:     action,
		Timestamp:  o.now(),
	}
	if traceID := shared.TraceID(ctx); traceID != "-" {
		rec.TraceID = traceID
	}
	if before != nil {
		rec.Before, _ = json.Marshal(before)
	}
	if after != nil {
		rec.After, _ = json.Marshal(after)
	}
	if err := o.auditor.Record(ctx, rec); err != nil {
		// Non-fatal: the entity write has committed. Log it so the gap
		// in the audit stream is observable.
		o.logger.Warn("audit emission failed",
			"entity_type", kind,
			"entity_id", id,
			"action", action,
			"error", err,
		)
	}
}

func (o *Orchestrator) publish(topic string, kind entity.Kind, id string, action entity.Action, actor string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(topic, bus.EntityMutatedEvent{
		EntityType: string(kind),
		EntityID:   id,
		Action:     string(action),
		Actor:      actor,
	})
}

// mergePatch overlays patch keys onto the stored entity's JSON form.
// Immutable fields are pinned afterwards by stampUpdate, but created_at is
// stripped from the patch here: it is only honored on create.
func mergePatch(existing entity.Entity, patch map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(existing)
	if err != nil {
		return nil, fmt.Errorf("marshal existing entity: %w", err)
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("unmarshal existing entity: %w", err)
	}
	for key, value := range patch {
		switch key {
		case "id", "created_at", "updated_at":
			continue
		}
		// JSON merge-patch semantics: null clears the field.
		if value == nil {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	return merged, nil
}

func stampUpdate(e entity.Entity, id string, created, now time.Time) {
	switch v := e.(type) {
	case *entity.Task:
		v.ID = id
		v.CreatedAt = created
		v.UpdatedAt = now
	case *entity.Project:
		v.ID = id
		v.CreatedAt = created
		v.UpdatedAt = now
	case *entity.Insight:
		v.ID = id
		v.CreatedAt = created
		v.UpdatedAt = now
	}
}

func mapStoreError(op string, err error) error {
	var refErr *entity.ReferenceError
	if errors.As(err, &refErr) {
		return refErr
	}
	return &entity.StorageError{Op: op, Err: err}
}
