// Package eventbus is a lightweight in-process publish/subscribe channel
// broadcasting diagnostic events to observers. Delivery is best-effort: a
// slow subscriber has a bounded queue and drops its oldest event on
// overflow rather than back-pressuring the producer.
package eventbus

import (
	"sync"
	"time"
)

// Kind tags the category of event.
type Kind string

const (
	KindRequest        Kind = "request"
	KindResponse       Kind = "response"
	KindError          Kind = "error"
	KindFaultInjected  Kind = "fault_injected"
	KindConnection     Kind = "connection"
	KindLifecycle      Kind = "lifecycle"
)

// Event carries a timestamp and a structured payload. Payload is
// intentionally untyped (map[string]any or a domain struct) so every
// component can publish its own shape without a central event schema.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// Subscriber receives events off its own bounded queue.
type Subscriber struct {
	ch      chan Event
	dropped int64
	mu      sync.Mutex
	closed  bool
}

// Events returns the channel to range over. Closed when Unsubscribe is
// called.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Dropped returns how many events were discarded because this
// subscriber's queue was full.
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Bus is the publish side. Zero value is usable.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	queueDepth  int
}

// New returns a Bus whose subscribers each get a queue of queueDepth
// events (default 256 if queueDepth <= 0).
func New(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &Bus{subscribers: make(map[*Subscriber]struct{}), queueDepth: queueDepth}
}

// Subscribe registers a new subscriber and returns it plus an unsubscribe
// function.
func (b *Bus) Subscribe() (*Subscriber, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = make(map[*Subscriber]struct{})
	}
	if b.queueDepth <= 0 {
		b.queueDepth = 256
	}
	s := &Subscriber{ch: make(chan Event, b.queueDepth)}
	b.subscribers[s] = struct{}{}
	return s, func() { b.unsubscribe(s) }
}

func (b *Bus) unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

// Publish delivers event to every current subscriber in arrival order.
// On a full queue the oldest buffered event is dropped to make room,
// incrementing that subscriber's dropped counter.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
			select {
			case <-s.ch:
				s.mu.Lock()
				s.dropped++
				s.mu.Unlock()
			default:
			}
			select {
			case s.ch <- e:
			default:
			}
		}
	}
}
