package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	t.Cleanup(unsub1)
	t.Cleanup(unsub2)

	b.Publish(Event{Type: "bridge.mode.switched"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != "bridge.mode.switched" {
				t.Fatalf("subscriber %d got type %q", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d got zero timestamp", i)
			}
		default:
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	t.Cleanup(unsub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: "sched.task.completed"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	// The buffer holds the first event; the rest were dropped.
	select {
	case e := <-ch:
		if e.Type != "sched.task.completed" {
			t.Fatalf("got type %q", e.Type)
		}
	default:
		t.Fatal("expected one buffered event")
	}
	select {
	case e := <-ch:
		t.Fatalf("expected drops beyond the buffer, got %q", e.Type)
	default:
	}
}

func TestSubscribeFilter(t *testing.T) {
	t.Parallel()

	b := New()
	schedOnly, unsub := b.SubscribeFilter("sched.", 4)
	t.Cleanup(unsub)
	all, unsubAll := b.SubscribeFilter("", 4)
	t.Cleanup(unsubAll)

	b.Publish(Event{Type: "sched.task.failed"})
	b.Publish(Event{Type: "bridge.session.opened"})

	select {
	case e := <-schedOnly:
		if e.Type != "sched.task.failed" {
			t.Fatalf("filtered subscriber got %q", e.Type)
		}
	default:
		t.Fatal("filtered subscriber missed its event")
	}
	select {
	case e := <-schedOnly:
		t.Fatalf("filtered subscriber got out-of-prefix event %q", e.Type)
	default:
	}

	if got := len(all); got != 2 {
		t.Fatalf("unfiltered subscriber has %d events, want 2", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)

	unsub()
	unsub() // double unsubscribe is a no-op

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic or deliver.
	b.Publish(Event{Type: "monitor.state.changed"})
}
