package event

import "sync"

// subscriberBuffer is each observer's channel capacity. An observer that
// falls this far behind is pruned rather than allowed to block the
// pipeline.
const subscriberBuffer = 64

// Subscriber is one registered observer. Read events from Events until the
// channel is closed; the channel closes when the subscriber is
// unsubscribed, pruned for falling behind, or the broadcaster shuts down.
type Subscriber struct {
	ch   chan Event
	once sync.Once
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broadcaster fans events out from the orchestration core to zero or more
// observers. It is safe for concurrent use, and publishing never blocks:
// delivery to one observer cannot affect delivery to the others.
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	snapshot func() Event
	closed   bool
}

// NewBroadcaster creates a Broadcaster. snapshot, if non-nil, is invoked on
// every Subscribe to synthesize the initial event describing current state;
// it is called with the broadcaster lock held, so it must not publish.
func NewBroadcaster(snapshot func() Event) *Broadcaster {
	return &Broadcaster{
		subs:     make(map[*Subscriber]struct{}),
		snapshot: snapshot,
	}
}

// Subscribe registers a new observer. The observer's first event is the
// current snapshot; live events follow in publication order.
func (b *Broadcaster) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.close()
		return s
	}

	// The snapshot goes into the fresh buffer before the subscriber can
	// receive any published event, so snapshot-first ordering holds.
	if b.snapshot != nil {
		if snap := b.snapshot(); snap != nil {
			s.ch <- snap
		}
	}
	b.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes an observer and closes its channel. Unsubscribing a
// subscriber that was already pruned is a no-op.
func (b *Broadcaster) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.close()
}

// Publish delivers an event to all current observers. An observer whose
// buffer is full is dropped; a disconnected observer never surfaces an
// error to the publisher.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			delete(b.subs, s)
			s.close()
		}
	}
}

// SubscriberCount returns the number of active observers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops all observers and marks the broadcaster terminal. Subsequent
// Subscribe calls return an already-closed subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.close()
	}
}
