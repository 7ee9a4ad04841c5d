// Package filter compiles declarative, independent filter criteria into a
// predicate set: a native part the store can push down (equality and range
// comparisons) and a residual part applied in memory after fetch
// (set membership over array-typed fields). All criteria combine
// conjunctively; there is no OR across filter dimensions.
package filter

import (
	"time"

	"github.com/basket/trackd/internal/entity"
)

// NoProject is the explicit "no project" sentinel for the ProjectID
// criterion: it matches tasks with no project reference, which is distinct
// from leaving the criterion unset.
const NoProject = "none"

// Criteria holds optional, independent filter dimensions. Zero values mean
// "not filtered" except where a pointer distinguishes unset from zero.
type Criteria struct {
	Status    string
	ProjectID string
	Priority  string
	// Tags matches entities whose tag set intersects the requested set
	// (ANY match, not ALL). Applied residually: the store cannot express
	// array containment.
	Tags          []string
	DueBefore     *time.Time
	DueAfter      *time.Time
	MinConfidence *float64
	InsightType   string
}

// Order describes result ordering. The zero value means creation time
// ascending, which is the deterministic default.
type Order struct {
	Field string
	Desc  bool
}

// PredicateSet is the compiled form of a Criteria: WHERE fragments with
// positional args for the store, plus an in-memory residual predicate.
// Residual is nil when every criterion is natively expressible.
type PredicateSet struct {
	Where    []string
	Args     []any
	Residual func(entity.Entity) bool
}

// Compile turns criteria into a predicate set. It is pure and performs
// no I/O.
func Compile(c Criteria) PredicateSet {
	var ps PredicateSet

	if c.Status != "" {
		ps.Where = append(ps.Where, "status = ?")
		ps.Args = append(ps.Args, c.Status)
	}
	if c.ProjectID != "" {
		if c.ProjectID == NoProject {
			ps.Where = append(ps.Where, "(project_id IS NULL OR project_id = '')")
		} else {
			ps.Where = append(ps.Where, "project_id = ?")
			ps.Args = append(ps.Args, c.ProjectID)
		}
	}
	if c.Priority != "" {
		ps.Where = append(ps.Where, "priority = ?")
		ps.Args = append(ps.Args, c.Priority)
	}
	if c.DueBefore != nil {
		ps.Where = append(ps.Where, "due_date IS NOT NULL AND due_date < ?")
		ps.Args = append(ps.Args, c.DueBefore.UTC())
	}
	if c.DueAfter != nil {
		ps.Where = append(ps.Where, "due_date IS NOT NULL AND due_date > ?")
		ps.Args = append(ps.Args, c.DueAfter.UTC())
	}
	if c.MinConfidence != nil {
		ps.Where = append(ps.Where, "confidence >= ?")
		ps.Args = append(ps.Args, *c.MinConfidence)
	}
	if c.InsightType != "" {
		ps.Where = append(ps.Where, "type = ?")
		ps.Args = append(ps.Args, c.InsightType)
	}

	if len(c.Tags) > 0 {
		want := make(map[string]struct{}, len(c.Tags))
		for _, tag := range c.Tags {
			want[tag] = struct{}{}
		}
		ps.Residual = func(e entity.Entity) bool {
			task, ok := e.(*entity.Task)
			if !ok {
				return false
			}
			for _, tag := range task.Tags {
				if _, hit := want[tag]; hit {
					return true
				}
			}
			return false
		}
	}

	return ps
}
