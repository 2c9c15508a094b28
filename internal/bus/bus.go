// Package bus implements the event bus (C1): fan-out of every lifecycle
// event to N independent subscribers, each with an unbounded FIFO queue,
// without ever blocking the publisher on a slow consumer. Grounded on the
// teacher's status-line bookkeeping in internal/batch/batch.go (a single
// mutex-protected slice shared by one writer and many readers) and on the
// multi-subscriber fan-out idiom sketched in spec.md §9 ("a single
// publisher and N independent FIFO queues with a close sentinel"); no
// ready-made pub/sub library appears anywhere in the retrieval pack, so
// the bus is hand-rolled the way the teacher hand-rolls its own
// concurrency primitives rather than reaching for one.
package bus

import (
	"errors"
	"sync"

	"github.com/silogy-io/smelt/pb"
)

// ErrClosed is returned by EventStream.PopBlocking once the bus has
// closed and the subscriber's queue has drained.
var ErrClosed = errors.New("bus: closed")

// Bus fans out published events to every current subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   map[*EventStream]struct{}
	closed bool
}

// New returns an empty, open Bus.
func New() *Bus {
	return &Bus{subs: make(map[*EventStream]struct{})}
}

// Subscribe returns a new EventStream. Events published before Subscribe
// is called are not replayed.
func (b *Bus) Subscribe() *EventStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &EventStream{cond: sync.NewCond(&sync.Mutex{})}
	if b.closed {
		s.closed = true
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe detaches s from the bus; its queue is freed and further
// publications become a no-op for it. Safe to call more than once.
func (b *Bus) Unsubscribe(s *EventStream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Publish enqueues event to every current subscriber. It never blocks on a
// slow consumer: each subscriber's queue is unbounded.
func (b *Bus) Publish(event pb.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(event)
	}
}

// Close marks the bus as no longer accepting new events; every subscriber
// observes the terminal marker once its queue drains. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closeStream()
	}
}

// EventStream is one subscriber's independent FIFO queue.
type EventStream struct {
	cond    *sync.Cond
	queue   []pb.Event
	closed  bool
	drained bool
}

func (s *EventStream) push(event pb.Event) {
	s.cond.L.Lock()
	s.queue = append(s.queue, event)
	s.cond.L.Unlock()
	s.cond.Signal()
}

func (s *EventStream) closeStream() {
	s.cond.L.Lock()
	s.closed = true
	s.cond.L.Unlock()
	s.cond.Broadcast()
}

// PopBlocking waits for and returns the next event, or ErrClosed once the
// bus has closed and this subscriber's queue is empty.
func (s *EventStream) PopBlocking() (pb.Event, error) {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return pb.Event{}, ErrClosed
	}
	e := s.queue[0]
	s.queue = s.queue[1:]
	return e, nil
}

// TryPop returns the next event without blocking, or ok=false if the
// queue is currently empty (whether or not the bus has closed).
func (s *EventStream) TryPop() (e pb.Event, ok bool) {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	if len(s.queue) == 0 {
		return pb.Event{}, false
	}
	e = s.queue[0]
	s.queue = s.queue[1:]
	return e, true
}

// IsDone reports whether this stream's queue is both empty and the bus has
// closed, i.e. no more events will ever arrive.
func (s *EventStream) IsDone() bool {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	return s.closed && len(s.queue) == 0
}
