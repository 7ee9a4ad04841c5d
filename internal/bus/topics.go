package bus

// Audit and entity event topics.
const (
	TopicAuditRecorded = "audit.recorded"
	TopicEntityCreated = "entity.created"
	TopicEntityUpdated = "entity.updated"
	TopicEntityDeleted = "entity.deleted"
)

// EntityMutatedEvent is published after a successful mutation commits.
type EntityMutatedEvent struct {
	EntityType string // task, project, insight
	EntityID   string
	Action     string // create, update, delete
	Actor      string
}
