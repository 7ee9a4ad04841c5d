package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/basket/trackd/internal/entity"
	"github.com/basket/trackd/internal/filter"
)

const (
	taskColumns    = "id, title, notes, status, priority, project_id, tags, due_date, created_at, updated_at"
	projectColumns = "id, name, notes, type, status, created_at, updated_at"
	insightColumns = "id, type, confidence, payload, created_at, updated_at"
)

// orderColumns allow-lists sortable columns per kind so caller-supplied
// order fields never reach the SQL text unchecked.
var orderColumns = map[entity.Kind]map[string]bool{
	entity.KindTask:    {"created_at": true, "updated_at": true, "due_date": true, "title": true, "priority": true, "status": true},
	entity.KindProject: {"created_at": true, "updated_at": true, "name": true, "status": true},
	entity.KindInsight: {"created_at": true, "updated_at": true, "confidence": true, "type": true},
}

func tableFor(kind entity.Kind) (table, columns string, err error) {
	switch kind {
	case entity.KindTask:
		return "tasks", taskColumns, nil
	case entity.KindProject:
		return "projects", projectColumns, nil
	case entity.KindInsight:
		return "insights", insightColumns, nil
	default:
		return "", "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

// Get loads one entity by id. Returns entity.ErrNotFound when the id does
// not exist in the kind's namespace.
func (s *Store) Get(ctx context.Context, kind entity.Kind, id string) (entity.Entity, error) {
	table, columns, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?;`, columns, table), id)
	e, err := scanEntity(kind, row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", kind, id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	return e, nil
}

// Upsert writes one entity as a single durable statement. A foreign-key
// rejection on tasks.project_id surfaces as a reference error, matching
// the mutation layer's pre-check.
func (s *Store) Upsert(ctx context.Context, kind entity.Kind, e entity.Entity) error {
	return retryOnBusy(ctx, 5, func() error {
		switch v := e.(type) {
		case *entity.Task:
			return s.upsertTask(ctx, v)
		case *entity.Project:
			return s.upsertProject(ctx, v)
		case *entity.Insight:
			return s.upsertInsight(ctx, v)
		default:
			return fmt.Errorf("unknown entity type %T for kind %q", e, kind)
		}
	})
}

func (s *Store) upsertTask(ctx context.Context, t *entity.Task) error {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	projectID := sql.NullString{String: t.ProjectID, Valid: t.ProjectID != ""}
	due := sql.NullTime{}
	if t.DueDate != nil {
		due.Valid = true
		due.Time = t.DueDate.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, notes, status, priority, project_id, tags, due_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			notes = excluded.notes,
			status = excluded.status,
			priority = excluded.priority,
			project_id = excluded.project_id,
			tags = excluded.tags,
			due_date = excluded.due_date,
			updated_at = excluded.updated_at;
	`, t.ID, t.Title, t.Notes, t.Status, t.Priority, projectID, string(tags), due, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if isForeignKeyViolation(err) {
		return &entity.ReferenceError{Kind: entity.KindProject, ID: t.ProjectID}
	}
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

func (s *Store) upsertProject(ctx context.Context, p *entity.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, notes, type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			notes = excluded.notes,
			type = excluded.type,
			status = excluded.status,
			updated_at = excluded.updated_at;
	`, p.ID, p.Name, p.Notes, p.Type, p.Status, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

func (s *Store) upsertInsight(ctx context.Context, ins *entity.Insight) error {
	payload := string(ins.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (id, type, confidence, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			confidence = excluded.confidence,
			payload = excluded.payload,
			updated_at = excluded.updated_at;
	`, ins.ID, ins.Type, ins.Confidence, payload, ins.CreatedAt.UTC(), ins.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert insight: %w", err)
	}
	return nil
}

// Delete removes one entity. Returns entity.ErrNotFound when nothing was
// deleted. Project deletion detaches referencing tasks (ON DELETE SET
// NULL); it never cascades into them.
func (s *Store) Delete(ctx context.Context, kind entity.Kind, id string) error {
	table, _, err := tableFor(kind)
	if err != nil {
		return err
	}
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?;`, table), id)
		if err != nil {
			return fmt.Errorf("delete %s: %w", kind, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete %s rows affected: %w", kind, err)
		}
		if affected == 0 {
			return fmt.Errorf("%s %q: %w", kind, id, entity.ErrNotFound)
		}
		return nil
	})
}

// Query runs the native part of a predicate set. Results are ordered by
// the requested column (created_at ascending when unset) with id as the
// tiebreak, so paging over equal timestamps stays deterministic. The
// residual part of the predicate set is the caller's to apply.
func (s *Store) Query(ctx context.Context, kind entity.Kind, ps filter.PredicateSet, order filter.Order, limit, offset int) ([]entity.Entity, error) {
	table, columns, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", columns, table)
	if len(ps.Where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(ps.Where, " AND "))
	}

	orderField := order.Field
	if orderField == "" || !orderColumns[kind][orderField] {
		orderField = "created_at"
	}
	direction := "ASC"
	if order.Desc {
		direction = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s, id %s", orderField, direction, direction)

	args := append([]any(nil), ps.Args...)
	switch {
	case limit > 0:
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, offset)
	case offset > 0:
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String()+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(kind, rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", kind, err)
	}
	return out, nil
}

func scanEntity(kind entity.Kind, scanFn func(dest ...any) error) (entity.Entity, error) {
	switch kind {
	case entity.KindTask:
		return scanTask(scanFn)
	case entity.KindProject:
		return scanProject(scanFn)
	case entity.KindInsight:
		return scanInsight(scanFn)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

func scanTask(scanFn func(dest ...any) error) (*entity.Task, error) {
	var t entity.Task
	var projectID sql.NullString
	var due sql.NullTime
	var tags string
	if err := scanFn(
		&t.ID,
		&t.Title,
		&t.Notes,
		&t.Status,
		&t.Priority,
		&projectID,
		&tags,
		&due,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if projectID.Valid {
		t.ProjectID = projectID.String
	}
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	if tags != "" && tags != "null" {
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &t, nil
}

func scanProject(scanFn func(dest ...any) error) (*entity.Project, error) {
	var p entity.Project
	if err := scanFn(
		&p.ID,
		&p.Name,
		&p.Notes,
		&p.Type,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanInsight(scanFn func(dest ...any) error) (*entity.Insight, error) {
	var ins entity.Insight
	var payload string
	if err := scanFn(
		&ins.ID,
		&ins.Type,
		&ins.Confidence,
		&payload,
		&ins.CreatedAt,
		&ins.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if payload != "" {
		ins.Payload = json.RawMessage(payload)
	}
	return &ins, nil
}
