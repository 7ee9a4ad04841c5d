package entity

// allowedTransitions is the task status state machine. Transitions not
// listed are rejected. Terminal states (completed, dropped) have no
// outgoing edges; reopening a terminal task is a policy decision made by
// the mutation layer, not encoded here.
var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusInbox: {
		TaskStatusAvailable: {},
		TaskStatusDropped:   {},
	},
	TaskStatusAvailable: {
		TaskStatusScheduled: {},
		TaskStatusDropped:   {},
	},
	TaskStatusScheduled: {
		TaskStatusCompleted: {},
		TaskStatusDropped:   {},
	},
}

// CanTransition reports whether a task may move from one status to another.
// A same-status "transition" is not a transition and returns false; callers
// treat it as a no-op before consulting the state machine.
func CanTransition(from, to TaskStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Terminal reports whether a task status has no outgoing transitions under
// normal mutation.
func Terminal(s TaskStatus) bool {
	return s == TaskStatusCompleted || s == TaskStatusDropped
}
