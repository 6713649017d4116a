package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeTaskStarted, Task: "a"})

	select {
	case ev := <-ch:
		if ev.Type != TypeTaskStarted || ev.Task != "a" {
			t.Fatalf("event = %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Fatal("publish did not stamp a time")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TypeTaskStarted, Task: "first"})
	// Buffer is full: this must not block.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: TypeTaskStarted, Task: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	ev := <-ch
	if ev.Task != "first" {
		t.Fatalf("got %q, want the first event kept", ev.Task)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must not panic or block with the subscriber gone.
	b.Publish(Event{Type: TypeTaskCompleted, Task: "x"})
}
