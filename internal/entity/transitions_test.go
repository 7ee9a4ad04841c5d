package entity_test

import (
	"testing"

	"github.com/basket/trackd/internal/entity"
)

func TestCanTransition_DrawnEdges(t *testing.T) {
	legal := []struct {
		from, to entity.TaskStatus
	}{
		{entity.TaskStatusInbox, entity.TaskStatusAvailable},
		{entity.TaskStatusInbox, entity.TaskStatusDropped},
		{entity.TaskStatusAvailable, entity.TaskStatusScheduled},
		{entity.TaskStatusAvailable, entity.TaskStatusDropped},
		{entity.TaskStatusScheduled, entity.TaskStatusCompleted},
		{entity.TaskStatusScheduled, entity.TaskStatusDropped},
	}
	for _, tc := range legal {
		if !entity.CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}
}

func TestCanTransition_RejectsUndrawnEdges(t *testing.T) {
	illegal := []struct {
		from, to entity.TaskStatus
	}{
		{entity.TaskStatusInbox, entity.TaskStatusScheduled},
		{entity.TaskStatusInbox, entity.TaskStatusCompleted},
		{entity.TaskStatusAvailable, entity.TaskStatusCompleted},
		{entity.TaskStatusAvailable, entity.TaskStatusInbox},
		{entity.TaskStatusScheduled, entity.TaskStatusAvailable},
		{entity.TaskStatusCompleted, entity.TaskStatusAvailable},
		{entity.TaskStatusCompleted, entity.TaskStatusInbox},
		{entity.TaskStatusDropped, entity.TaskStatusInbox},
		{entity.TaskStatusDropped, entity.TaskStatusAvailable},
		{entity.TaskStatusInbox, entity.TaskStatusInbox},
	}
	for _, tc := range illegal {
		if entity.CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range entity.TaskStatuses {
		want := s == entity.TaskStatusCompleted || s == entity.TaskStatusDropped
		if got := entity.Terminal(s); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", s, got, want)
		}
	}
}
