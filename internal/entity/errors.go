package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by the store when an entity id does not exist in
// its kind's namespace.
var ErrNotFound = errors.New("entity not found")

// FieldError describes a single invalid field on a candidate entity.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidationError carries the full list of field errors for a rejected
// candidate, never just the first.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// TransitionError rejects an illegal task status change. Distinct from a
// validation error: the value is a member of the enum, the move is not.
type TransitionError struct {
	From TaskStatus
	To   TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// ReferenceError rejects a mutation that points at a missing entity, e.g.
// a task whose project_id does not resolve.
type ReferenceError struct {
	Kind Kind
	ID   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("dangling reference: %s %q does not exist", e.Kind, e.ID)
}

// StorageError wraps a store failure. It is surfaced to callers as
// retryable; no retry happens inside the mutation layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// AuditError marks a failed audit emission after a successful store write.
// Non-fatal: the mutation result stands, the failure is logged and counted.
type AuditError struct {
	Err error
}

func (e *AuditError) Error() string {
	return fmt.Sprintf("audit emission failed: %v", e.Err)
}

func (e *AuditError) Unwrap() error { return e.Err }
