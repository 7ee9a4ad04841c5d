package retention

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubStore struct {
	cutoffs []time.Time
	purged  int64
	err     error
}

func (s *stubStore) PurgeAuditBefore(_ context.Context, cutoff time.Time) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.purged, nil
}

func TestNewSweeper_RejectsBadCron(t *testing.T) {
	_, err := NewSweeper(Config{Store: &stubStore{}, CronExpr: "not a cron"})
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSweep_UsesRetentionWindowCutoff(t *testing.T) {
	now := time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC)
	store := &stubStore{purged: 7}
	s, err := NewSweeper(Config{
		Store:     store,
		AuditDays: 30,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}

	s.Sweep(context.Background())

	if len(store.cutoffs) != 1 {
		t.Fatalf("purge calls = %d, want 1", len(store.cutoffs))
	}
	want := now.AddDate(0, 0, -30)
	if !store.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", store.cutoffs[0], want)
	}
	if s.LastPurged() != 7 {
		t.Errorf("last purged = %d, want 7", s.LastPurged())
	}
}

func TestSweep_StoreErrorDoesNotPanic(t *testing.T) {
	s, err := NewSweeper(Config{
		Store:     &stubStore{err: errors.New("locked")},
		AuditDays: 30,
	})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.Sweep(context.Background())
	if s.LastPurged() != 0 {
		t.Errorf("last purged = %d after failed sweep", s.LastPurged())
	}
}

func TestNextRunTime(t *testing.T) {
	after := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	next, err := NextRunTime("0 3 * * *", after)
	if err != nil {
		t.Fatalf("next run time: %v", err)
	}
	want := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestStart_DisabledWhenZeroDays(t *testing.T) {
	s, err := NewSweeper(Config{Store: &stubStore{}})
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.Start(context.Background())
	s.Stop()
}
