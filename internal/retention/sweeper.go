// Package retention runs the scheduled purge of old audit records.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Store is the slice of the persistence layer the sweeper needs.
type Store interface {
	PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds the dependencies for the retention sweeper.
type Config struct {
	Store  Store
	Logger *slog.Logger

	// AuditDays is the audit retention window. 0 disables the sweep.
	AuditDays int
	// CronExpr schedules the sweep. Defaults to 03:00 daily.
	CronExpr string

	// Now is a test seam; defaults to the UTC clock.
	Now func() time.Time
}

// Sweeper deletes audit records older than the retention window at each
// scheduled tick. Entity data is never touched: retention applies to the
// audit stream only.
type Sweeper struct {
	store    Store
	logger   *slog.Logger
	days     int
	schedule cronlib.Schedule
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastPurge int64
}

// NewSweeper creates a sweeper. It returns an error when the cron
// expression does not parse.
func NewSweeper(cfg Config) (*Sweeper, error) {
	expr := cfg.CronExpr
	if expr == "" {
		expr = "0 3 * * *"
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{
		store:    cfg.Store,
		logger:   logger,
		days:     cfg.AuditDays,
		schedule: schedule,
		now:      now,
	}, nil
}

// Start begins the sweep loop. A zero retention window means the loop
// never starts and audit records are kept forever.
func (s *Sweeper) Start(ctx context.Context) {
	if s.days <= 0 {
		s.logger.Info("retention sweep disabled, audit records kept forever")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("retention sweeper started", "audit_days", s.days)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

// LastPurged returns the row count removed by the most recent sweep.
func (s *Sweeper) LastPurged() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPurge
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep purges audit records older than the retention window once.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.days)
	purged, err := s.store.PurgeAuditBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "cutoff", cutoff, "error", err)
		return
	}
	s.mu.Lock()
	s.lastPurge = purged
	s.mu.Unlock()
	s.logger.Info("retention sweep complete", "cutoff", cutoff, "purged", purged)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
