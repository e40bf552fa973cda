package eventbus

import (
	"testing"
)

func TestSubscribeFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	events, unsub := b.Subscribe(4, "event.")
	defer unsub()

	b.Publish(Event{Type: "event.created", Data: 1})
	b.Publish(Event{Type: "trigger.completed"})

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber got %d events", got)
	}
	if got := len(events); got != 1 {
		t.Fatalf("filtered subscriber got %d events", got)
	}
	e := <-events
	if e.Type != "event.created" || e.Topic() != "event" || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}

	unsub()
	unsub()
	b.Publish(Event{Type: "d"})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("publish after unsubscribe counted a drop: %d", got)
	}
}
