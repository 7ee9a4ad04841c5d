package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/trackd/internal/entity"
)

// AppendAudit writes one audit row. The mutation layer calls this only
// after the entity write has committed.
func (s *Store) AppendAudit(ctx context.Context, rec entity.AuditRecord) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_log (entity_type, entity_id, actor, action, trace_id, before_json, after_json, created_at)
			VALUES (?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?);
		`, rec.EntityType, rec.EntityID, rec.Actor, rec.Action, rec.TraceID,
			string(rec.Before), string(rec.After), rec.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("insert audit row: %w", err)
		}
		return nil
	})
}

// AuditCount returns the total number of audit rows.
func (s *Store) AuditCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM audit_log;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("audit count: %w", err)
	}
	return count, nil
}

// PurgeAuditBefore deletes audit rows older than the cutoff and returns
// how many were removed. Used by the retention sweeper.
func (s *Store) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?;`, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("purge audit rows: %w", err)
		}
		purged, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("purge rows affected: %w", err)
		}
		return nil
	})
	return purged, err
}

// Counts summarizes store contents for /healthz and /metrics.
type Counts struct {
	TasksByStatus map[entity.TaskStatus]int64 `json:"tasks_by_status"`
	Projects      int64                       `json:"projects"`
	Insights      int64                       `json:"insights"`
	AuditRows     int64                       `json:"audit_rows"`
}

func (s *Store) EntityCounts(ctx context.Context) (Counts, error) {
	counts := Counts{TasksByStatus: make(map[entity.TaskStatus]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status;`)
	if err != nil {
		return counts, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status entity.TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan task count: %w", err)
		}
		counts.TasksByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("task count rows: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM projects;`).Scan(&counts.Projects); err != nil {
		return counts, fmt.Errorf("count projects: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM insights;`).Scan(&counts.Insights); err != nil {
		return counts, fmt.Errorf("count insights: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM audit_log;`).Scan(&counts.AuditRows); err != nil {
		return counts, fmt.Errorf("count audit rows: %w", err)
	}
	return counts, nil
}

// TaskCountForProject returns how many tasks reference a project. Exposed
// for the project list summary.
func (s *Store) TaskCountForProject(ctx context.Context, projectID string) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE project_id = ?;`, projectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tasks for project: %w", err)
	}
	return count, nil
}
