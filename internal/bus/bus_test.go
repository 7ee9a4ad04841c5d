package bus_test

import (
	"testing"

	"github.com/basket/trackd/internal/bus"
)

func TestBus_PublishReachesPrefixSubscribers(t *testing.T) {
	b := bus.New()
	all := b.Subscribe("")
	auditOnly := b.Subscribe("audit.")
	defer b.Unsubscribe(all)
	defer b.Unsubscribe(auditOnly)

	b.Publish(bus.TopicEntityCreated, bus.EntityMutatedEvent{EntityType: "task", EntityID: "t-1", Action: "create"})
	b.Publish(bus.TopicAuditRecorded, "rec")

	if got := len(all.Ch()); got != 2 {
		t.Errorf("catch-all subscriber received %d events, want 2", got)
	}
	if got := len(auditOnly.Ch()); got != 1 {
		t.Errorf("audit subscriber received %d events, want 1", got)
	}
	ev := <-auditOnly.Ch()
	if ev.Topic != bus.TopicAuditRecorded {
		t.Errorf("topic = %s, want %s", ev.Topic, bus.TopicAuditRecorded)
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if _, open := <-sub.Ch(); open {
		t.Error("expected closed channel after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", b.SubscriberCount())
	}
	// Double unsubscribe must not panic.
	b.Unsubscribe(sub)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for i := 0; i < 250; i++ {
		b.Publish("entity.created", i)
	}
	if got := len(sub.Ch()); got != 100 {
		t.Errorf("buffered events = %d, want 100 (buffer cap)", got)
	}
}
