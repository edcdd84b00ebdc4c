// Package eventbus is the in-process signal fabric: scheduler lifecycle,
// link connects and disconnects, mode switches and watchdog beats travel
// as small typed events between otherwise unrelated components.
package eventbus

import (
	"strings"
	"sync"
	"time"
)

// Event is one published signal. Data should stay small and
// JSON-serializable; the storage recorder persists it as-is.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full loses the new event, not the queued ones.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// SubscribeFilter delivers only events whose Type starts with prefix.
	// An empty prefix matches everything.
	SubscribeFilter(prefix string, buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines; delivery happens
// on the publisher's stack.
func New() Bus {
	return &fanout{}
}

type fanout struct {
	mu  sync.RWMutex
	eps []*endpoint
}

// endpoint pairs a subscriber channel with the state needed to close it
// exactly once while publishes race against unsubscribe.
type endpoint struct {
	prefix string
	ch     chan Event

	mu     sync.Mutex
	closed bool
}

// deliver offers e without blocking. The endpoint lock orders the send
// against close, so an unsubscribing reader can never trip a send on a
// closed channel.
func (ep *endpoint) deliver(e Event) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return
	}
	select {
	case ep.ch <- e:
	default:
	}
}

func (ep *endpoint) close() {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if !ep.closed {
		ep.closed = true
		close(ep.ch)
	}
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	eps := b.eps
	b.mu.RUnlock()

	for _, ep := range eps {
		if ep.prefix == "" || strings.HasPrefix(e.Type, ep.prefix) {
			ep.deliver(e)
		}
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	return b.SubscribeFilter("", buffer)
}

func (b *fanout) SubscribeFilter(prefix string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ep := &endpoint{prefix: prefix, ch: make(chan Event, buffer)}

	b.mu.Lock()
	next := make([]*endpoint, len(b.eps)+1)
	copy(next, b.eps)
	next[len(b.eps)] = ep
	b.eps = next
	b.mu.Unlock()

	return ep.ch, func() { b.drop(ep) }
}

// drop removes ep from the roster and closes it. Publishers holding an
// older roster snapshot still hit the closed check in deliver.
func (b *fanout) drop(ep *endpoint) {
	b.mu.Lock()
	next := make([]*endpoint, 0, len(b.eps))
	for _, cur := range b.eps {
		if cur != ep {
			next = append(next, cur)
		}
	}
	b.eps = next
	b.mu.Unlock()

	ep.close()
}
