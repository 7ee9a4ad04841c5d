// Package entity defines the tracked entity kinds (Task, Project, Insight),
// their lifecycle enumerations, and the audit record shape shared by the
// mutation and query layers.
package entity

import (
	"encoding/json"
	"time"
)

// Kind names an entity namespace in the store.
type Kind string

const (
	KindTask    Kind = "task"
	KindProject Kind = "project"
	KindInsight Kind = "insight"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []Kind{KindTask, KindProject, KindInsight}

type TaskStatus string

const (
	TaskStatusInbox     TaskStatus = "inbox"
	TaskStatusAvailable TaskStatus = "available"
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusDropped   TaskStatus = "dropped"
)

// TaskStatuses lists the valid task statuses.
var TaskStatuses = []TaskStatus{
	TaskStatusInbox,
	TaskStatusAvailable,
	TaskStatusScheduled,
	TaskStatusCompleted,
	TaskStatusDropped,
}

type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityNormal   TaskPriority = "normal"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

var TaskPriorities = []TaskPriority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical}

type ProjectType string

const (
	ProjectTypeParallel   ProjectType = "parallel"
	ProjectTypeSequential ProjectType = "sequential"
)

var ProjectTypes = []ProjectType{ProjectTypeParallel, ProjectTypeSequential}

type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusOnHold    ProjectStatus = "on_hold"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusDropped   ProjectStatus = "dropped"
)

var ProjectStatuses = []ProjectStatus{
	ProjectStatusActive,
	ProjectStatusOnHold,
	ProjectStatusCompleted,
	ProjectStatusDropped,
}

type InsightType string

const (
	InsightTypePattern    InsightType = "pattern"
	InsightTypeSuggestion InsightType = "suggestion"
	InsightTypeRisk       InsightType = "risk"
)

var InsightTypes = []InsightType{InsightTypePattern, InsightTypeSuggestion, InsightTypeRisk}

// Entity is implemented by every tracked entity kind. The store and the
// query service operate on this interface; the orchestrator type-switches
// on the concrete types when it needs to stamp IDs or timestamps.
type Entity interface {
	EntityKind() Kind
	EntityID() string
	CreatedTime() time.Time
}

// Task is a single unit of work.
type Task struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Notes     string       `json:"notes,omitempty"`
	Status    TaskStatus   `json:"status"`
	Priority  TaskPriority `json:"priority"`
	ProjectID string       `json:"project_id,omitempty"`
	// Tags preserve insertion order for display; duplicates are collapsed
	// at validation time.
	Tags      []string   `json:"tags,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (t *Task) EntityKind() Kind       { return KindTask }
func (t *Task) EntityID() string       { return t.ID }
func (t *Task) CreatedTime() time.Time { return t.CreatedAt }

// Project groups tasks. Completing or deleting a project never cascades
// into its tasks.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Notes     string        `json:"notes,omitempty"`
	Type      ProjectType   `json:"type"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (p *Project) EntityKind() Kind       { return KindProject }
func (p *Project) EntityID() string       { return p.ID }
func (p *Project) CreatedTime() time.Time { return p.CreatedAt }

// Insight is a derived observation with a confidence in [0, 1].
type Insight struct {
	ID         string          `json:"id"`
	Type       InsightType     `json:"type"`
	Confidence float64         `json:"confidence"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (i *Insight) EntityKind() Kind       { return KindInsight }
func (i *Insight) EntityID() string       { return i.ID }
func (i *Insight) CreatedTime() time.Time { return i.CreatedAt }

// Action names a mutation recorded in the audit stream.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// AuditRecord describes one successful mutation. One record is emitted per
// mutation, after the store write commits and never before.
type AuditRecord struct {
	EntityType Kind            `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Actor      string          `json:"actor"`
	Action     Action          `json:"action"`
	Timestamp  time.Time       `json:"timestamp"`
	TraceID    string          `json:"trace_id,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}
