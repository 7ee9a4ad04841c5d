// Package query is the read path. It compiles list criteria into native
// store predicates plus an optional in-memory residual, and applies
// pagination only after the residual has run, so a page is always a
// window over the fully filtered result set.
package query

import (
	"context"
	"errors"
	"log/slog"

	"github.com/basket/trackd/internal/entity"
	"github.com/basket/trackd/internal/filter"
)

// Store is the slice of the persistence layer the service consumes.
type Store interface {
	Get(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error)
	Query(ctx context.Context, kind entity.Kind, preds filter.PredicateSet, order filter.Order, limit, offset int) ([]entity.Entity, error)
}

// Page bounds a listing. Zero Limit means unbounded.
type Page struct {
	Limit  int
	Offset int
}

// Result is one page of a filtered listing. Total counts every match
// after filtering, not just the page.
type Result struct {
	Items  []entity.Entity
	Total  int
	Limit  int
	Offset int
}

// Service answers point reads and filtered listings.
type Service struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Get returns a single entity by id.
func (s *Service) Get(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	e, err := s.store.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, err
		}
		return nil, &entity.StorageError{Op: "get " + string(kind), Err: err}
	}
	return e, nil
}

// List compiles the criteria, fetches every native match in stable order,
// applies the residual predicate, and only then applies the page window.
// Identical calls over unchanged data return identical pages.
func (s *Service) List(ctx context.Context, kind entity.Kind, criteria filter.Criteria, order filter.Order, page Page) (Result, error) {
	preds := filter.Compile(criteria)

	// Residual filtering forbids pushing limit/offset into the store:
	// the window must be cut from the post-residual sequence.
	entities, err := s.store.Query(ctx, kind, preds, order, 0, 0)
	if err != nil {
		return Result{}, &entity.StorageError{Op: "list " + string(kind), Err: err}
	}

	if preds.Residual != nil {
		filtered := entities[:0]
		for _, e := range entities {
			if preds.Residual(e) {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}

	total := len(entities)
	items := window(entities, page)
	return Result{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}, nil
}

func window(entities []entity.Entity, page Page) []entity.Entity {
	if page.Offset > 0 {
		if page.Offset >= len(entities) {
			return nil
		}
		entities = entities[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(entities) {
		entities = entities[:page.Limit]
	}
	return entities
}
