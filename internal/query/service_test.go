package query_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/basket/trackd/internal/entity"
	"github.com/basket/trackd/internal/filter"
	"github.com/basket/trackd/internal/query"
)

type fakeStore struct {
	tasks []entity.Entity

	gotLimit  int
	gotOffset int
}

func (s *fakeStore) Get(_ context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	for _, e := range s.tasks {
		if e.EntityID() == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("get %s %s: %w", kind, id, entity.ErrNotFound)
}

func (s *fakeStore) Query(_ context.Context, _ entity.Kind, _ filter.PredicateSet, _ filter.Order, limit, offset int) ([]entity.Entity, error) {
	s.gotLimit = limit
	s.gotOffset = offset
	out := make([]entity.Entity, len(s.tasks))
	copy(out, s.tasks)
	return out, nil
}

// seedTasks returns n tasks in creation order; every second task carries
// the "focus" tag.
func seedTasks(n int) []entity.Entity {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	out := make([]entity.Entity, 0, n)
	for i := 0; i < n; i++ {
		task := &entity.Task{
			ID:        fmt.Sprintf("t-%02d", i),
			Title:     fmt.Sprintf("task %d", i),
			Status:    entity.TaskStatusAvailable,
			Priority:  entity.PriorityNormal,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if i%2 == 0 {
			task.Tags = []string{"focus"}
		}
		out = append(out, task)
	}
	return out
}

func TestList_PageWindowsTheNativeOrder(t *testing.T) {
	store := &fakeStore{tasks: seedTasks(8)}
	svc := query.New(store, nil)

	res, err := svc.List(context.Background(), entity.KindTask, filter.Criteria{}, filter.Order{}, query.Page{Limit: 3, Offset: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 8 {
		t.Errorf("total = %d, want 8", res.Total)
	}
	wantIDs := []string{"t-03", "t-04", "t-05"}
	if len(res.Items) != len(wantIDs) {
		t.Fatalf("items = %d, want %d", len(res.Items), len(wantIDs))
	}
	for i, want := range wantIDs {
		if got := res.Items[i].EntityID(); got != want {
			t.Errorf("item[%d] = %s, want %s", i, got, want)
		}
	}
}

func TestList_PaginationAppliedAfterResidual(t *testing.T) {
	store := &fakeStore{tasks: seedTasks(10)}
	svc := query.New(store, nil)

	res, err := svc.List(context.Background(), entity.KindTask,
		filter.Criteria{Tags: []string{"focus"}}, filter.Order{}, query.Page{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	// The page must never be cut in the store when a residual exists.
	if store.gotLimit != 0 || store.gotOffset != 0 {
		t.Errorf("store received limit=%d offset=%d, want unbounded fetch", store.gotLimit, store.gotOffset)
	}
	// Tagged tasks are t-00, t-02, t-04, t-06, t-08; page 2/2 is t-04, t-06.
	if res.Total != 5 {
		t.Errorf("total = %d, want 5", res.Total)
	}
	wantIDs := []string{"t-04", "t-06"}
	if len(res.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(res.Items))
	}
	for i, want := range wantIDs {
		if got := res.Items[i].EntityID(); got != want {
			t.Errorf("item[%d] = %s, want %s", i, got, want)
		}
	}
}

func TestList_Deterministic(t *testing.T) {
	store := &fakeStore{tasks: seedTasks(6)}
	svc := query.New(store, nil)
	ctx := context.Background()
	criteria := filter.Criteria{Tags: []string{"focus"}}
	page := query.Page{Limit: 2, Offset: 1}

	first, err := svc.List(ctx, entity.KindTask, criteria, filter.Order{}, page)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := svc.List(ctx, entity.KindTask, criteria, filter.Order{}, page)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(first.Items) != len(second.Items) {
		t.Fatalf("page sizes differ: %d vs %d", len(first.Items), len(second.Items))
	}
	for i := range first.Items {
		if first.Items[i].EntityID() != second.Items[i].EntityID() {
			t.Errorf("item[%d] differs across identical calls", i)
		}
	}
}

func TestList_OffsetPastEnd(t *testing.T) {
	store := &fakeStore{tasks: seedTasks(3)}
	svc := query.New(store, nil)

	res, err := svc.List(context.Background(), entity.KindTask, filter.Criteria{}, filter.Order{}, query.Page{Limit: 5, Offset: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) != 0 {
		t.Errorf("items = %d, want empty page", len(res.Items))
	}
	if res.Total != 3 {
		t.Errorf("total = %d, want 3", res.Total)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := query.New(&fakeStore{}, nil)
	_, err := svc.Get(context.Background(), entity.KindTask, "missing")
	if !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
