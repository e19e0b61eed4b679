package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindStatusChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged})
	b.Publish(Event{Kind: KindMessageUpserted})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageUpserted {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageUpserted)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the session event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 1)
	defer unsub()

	before := time.Now()
	b.Emit(KindTypingChanged, "user-1")

	evt := <-ch
	if evt.Timestamp.Before(before) {
		t.Errorf("timestamp %v predates Emit call", evt.Timestamp)
	}
	if evt.Payload != "user-1" {
		t.Errorf("payload = %v, want user-1", evt.Payload)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: KindStatusChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}
