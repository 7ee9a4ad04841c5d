// Package validate checks candidate entities against their declared shape
// and returns either a normalized entity or the full list of field errors.
// It is pure: no store access, deterministic for the same input, and
// idempotent on its own normalized output.
package validate

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/basket/trackd/internal/entity"
)

// Allow-list projection: keys not listed here are dropped silently for
// forward compatibility. updated_at is never caller-supplied; created_at is
// projected but only honored on create by the mutation layer.
var allowedFields = map[entity.Kind][]string{
	entity.KindTask:    {"id", "title", "notes", "status", "priority", "project_id", "tags", "due_date", "created_at"},
	entity.KindProject: {"id", "name", "notes", "type", "status", "created_at"},
	entity.KindInsight: {"id", "type", "confidence", "payload", "created_at"},
}

// Validate normalizes a candidate for the given kind. On failure it returns
// a nil entity and a validation error carrying every field error found.
func Validate(kind entity.Kind, candidate map[string]any) (entity.Entity, *entity.ValidationError) {
	c := project(kind, candidate)
	var errs []entity.FieldError

	var out entity.Entity
	switch kind {
	case entity.KindTask:
		out = normalizeTask(c, &errs)
	case entity.KindProject:
		out = normalizeProject(c, &errs)
	case entity.KindInsight:
		out = normalizeInsight(c, &errs)
	default:
		errs = append(errs, entity.FieldError{Field: "kind", Reason: "unknown entity kind " + string(kind)})
	}

	if len(errs) > 0 {
		return nil, &entity.ValidationError{Fields: errs}
	}
	return out, nil
}

// project applies the kind's allow-list to the candidate map.
func project(kind entity.Kind, candidate map[string]any) map[string]any {
	out := make(map[string]any, len(candidate))
	for _, key := range allowedFields[kind] {
		if v, ok := candidate[key]; ok {
			out[key] = v
		}
	}
	return out
}

func normalizeTask(c map[string]any, errs *[]entity.FieldError) *entity.Task {
	t := &entity.Task{
		Status:   entity.TaskStatusInbox,
		Priority: entity.PriorityNormal,
	}
	t.ID = stringField(c, "id", errs)
	t.Title = strings.TrimSpace(stringField(c, "title", errs))
	if t.Title == "" {
		*errs = append(*errs, entity.FieldError{Field: "title", Reason: "required and must be non-empty"})
	}
	t.Notes = stringField(c, "notes", errs)
	t.ProjectID = stringField(c, "project_id", errs)

	if v, ok := c["status"]; ok {
		s := entity.TaskStatus(asString(v, "status", errs))
		if s != "" && !statusKnown(s) {
			*errs = append(*errs, entity.FieldError{Field: "status", Reason: "unknown status " + string(s)})
		} else if s != "" {
			t.Status = s
		}
	}
	if v, ok := c["priority"]; ok {
		p := entity.TaskPriority(asString(v, "priority", errs))
		if p != "" && !priorityKnown(p) {
			*errs = append(*errs, entity.FieldError{Field: "priority", Reason: "unknown priority " + string(p)})
		} else if p != "" {
			t.Priority = p
		}
	}
	if v, ok := c["tags"]; ok {
		t.Tags = normalizeTags(v, errs)
	}
	if v, ok := c["due_date"]; ok {
		if ts, valid := asTime(v, "due_date", errs); valid {
			t.DueDate = &ts
		}
	}
	if v, ok := c["created_at"]; ok {
		if ts, valid := asTime(v, "created_at", errs); valid {
			t.CreatedAt = ts
		}
	}
	return t
}

func normalizeProject(c map[string]any, errs *[]entity.FieldError) *entity.Project {
	p := &entity.Project{Status: entity.ProjectStatusActive}
	p.ID = stringField(c, "id", errs)
	p.Name = strings.TrimSpace(stringField(c, "name", errs))
	if p.Name == "" {
		*errs = append(*errs, entity.FieldError{Field: "name", Reason: "required and must be non-empty"})
	}
	p.Notes = stringField(c, "notes", errs)

	typ := entity.ProjectType(stringField(c, "type", errs))
	switch {
	case typ == "":
		*errs = append(*errs, entity.FieldError{Field: "type", Reason: "required"})
	case !projectTypeKnown(typ):
		*errs = append(*errs, entity.FieldError{Field: "type", Reason: "unknown type " + string(typ)})
	default:
		p.Type = typ
	}

	if v, ok := c["status"]; ok {
		s := entity.ProjectStatus(asString(v, "status", errs))
		if s != "" && !projectStatusKnown(s) {
			*errs = append(*errs, entity.FieldError{Field: "status", Reason: "unknown status " + string(s)})
		} else if s != "" {
			p.Status = s
		}
	}
	if v, ok := c["created_at"]; ok {
		if ts, valid := asTime(v, "created_at", errs); valid {
			p.CreatedAt = ts
		}
	}
	return p
}

func normalizeInsight(c map[string]any, errs *[]entity.FieldError) *entity.Insight {
	ins := &entity.Insight{}
	ins.ID = stringField(c, "id", errs)

	typ := entity.InsightType(stringField(c, "type", errs))
	switch {
	case typ == "":
		*errs = append(*errs, entity.FieldError{Field: "type", Reason: "required"})
	case !insightTypeKnown(typ):
		*errs = append(*errs, entity.FieldError{Field: "type", Reason: "unknown type " + string(typ)})
	default:
		ins.Type = typ
	}

	if v, ok := c["confidence"]; ok {
		f, valid := asFloat(v, "confidence", errs)
		if valid {
			// Out-of-range confidence is rejected, never clamped.
			if f < 0.0 || f > 1.0 {
				*errs = append(*errs, entity.FieldError{Field: "confidence", Reason: "must be within [0.0, 1.0]"})
			} else {
				ins.Confidence = f
			}
		}
	} else {
		*errs = append(*errs, entity.FieldError{Field: "confidence", Reason: "required"})
	}

	if v, ok := c["payload"]; ok && v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			*errs = append(*errs, entity.FieldError{Field: "payload", Reason: "not serializable: " + err.Error()})
		} else {
			if reason, ok := payloadSchemaError(typ, raw); !ok {
				*errs = append(*errs, entity.FieldError{Field: "payload", Reason: reason})
			} else {
				ins.Payload = raw
			}
		}
	}
	if v, ok := c["created_at"]; ok {
		if ts, valid := asTime(v, "created_at", errs); valid {
			ins.CreatedAt = ts
		}
	}
	return ins
}

// normalizeTags collapses duplicates while preserving insertion order.
func normalizeTags(v any, errs *[]entity.FieldError) []string {
	var raw []string
	switch vv := v.(type) {
	case []string:
		raw = vv
	case []any:
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				*errs = append(*errs, entity.FieldError{Field: "tags", Reason: "must be an array of strings"})
				return nil
			}
			raw = append(raw, s)
		}
	default:
		*errs = append(*errs, entity.FieldError{Field: "tags", Reason: "must be an array of strings"})
		return nil
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringField(c map[string]any, key string, errs *[]entity.FieldError) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	return asString(v, key, errs)
}

func asString(v any, field string, errs *[]entity.FieldError) string {
	s, ok := v.(string)
	if !ok {
		*errs = append(*errs, entity.FieldError{Field: field, Reason: "must be a string"})
		return ""
	}
	return s
}

func asFloat(v any, field string, errs *[]entity.FieldError) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case json.Number:
		f, err := vv.Float64()
		if err != nil {
			*errs = append(*errs, entity.FieldError{Field: field, Reason: "must be a number"})
			return 0, false
		}
		return f, true
	default:
		*errs = append(*errs, entity.FieldError{Field: field, Reason: "must be a number"})
		return 0, false
	}
}

func asTime(v any, field string, errs *[]entity.FieldError) (time.Time, bool) {
	switch vv := v.(type) {
	case time.Time:
		return vv, true
	case string:
		ts, err := time.Parse(time.RFC3339Nano, vv)
		if err != nil {
			*errs = append(*errs, entity.FieldError{Field: field, Reason: "must be an RFC3339 timestamp"})
			return time.Time{}, false
		}
		return ts, true
	default:
		*errs = append(*errs, entity.FieldError{Field: field, Reason: "must be an RFC3339 timestamp"})
		return time.Time{}, false
	}
}

func statusKnown(s entity.TaskStatus) bool {
	for _, known := range entity.TaskStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func priorityKnown(p entity.TaskPriority) bool {
	for _, known := range entity.TaskPriorities {
		if p == known {
			return true
		}
	}
	return false
}

func projectTypeKnown(t entity.ProjectType) bool {
	for _, known := range entity.ProjectTypes {
		if t == known {
			return true
		}
	}
	return false
}

func projectStatusKnown(s entity.ProjectStatus) bool {
	for _, known := range entity.ProjectStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func insightTypeKnown(t entity.InsightType) bool {
	for _, known := range entity.InsightTypes {
		if t == known {
			return true
		}
	}
	return false
}
