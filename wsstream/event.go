package wsstream

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"wsstream.dev/bridge"
)

// EventKind classifies an Event delivered by the EventBus.
type EventKind int

const (
	// EventProtocolError reports a WebSocket protocol violation, a
	// received text message, a message over the read limit, or a failed
	// close frame send. For a violation or a text message the adapter also
	// initiates a graceful close.
	EventProtocolError EventKind = iota

	// EventCloseFrameReceived reports that the remote sent a close
	// frame. Code and Reason hold its contents, if any were present.
	EventCloseFrameReceived

	// EventPingReceived reports a ping frame; Payload holds its bytes.
	// The connection auto-responds with a pong.
	EventPingReceived

	// EventPongReceived reports a pong frame; Payload holds its bytes.
	EventPongReceived

	// EventConnectionClosed reports that the underlying connection is
	// gone. Delivered at most once per subscriber.
	EventConnectionClosed
)

//go:generate go run golang.org/x/tools/cmd/stringer -type=EventKind

// Event is the out-of-band notification type delivered by EventBus.
type Event struct {
	Kind    EventKind
	Code    websocket.StatusCode // set for EventCloseFrameReceived
	Reason  string               // set for EventCloseFrameReceived and EventProtocolError
	Payload []byte               // set for EventPingReceived and EventPongReceived
}

// SubscribeConfig configures a subscription created via EventBus.Subscribe.
type SubscribeConfig struct {
	// Buffer is the bounded channel capacity. Zero means the
	// subscription is unbounded: Publish never blocks on it, events
	// accumulate in an internal queue until the subscriber drains them.
	Buffer int

	// Filter, if set, is consulted for every event; events for which it
	// returns false are not delivered to this subscriber.
	Filter func(Event) bool
}

// EventBus is an in-process broadcast of Events to zero or more
// subscribers, with per-subscriber backpressure. A bounded subscriber that
// falls behind makes Publish block, which propagates backpressure to
// whatever is publishing (MessageAdapter's inbound pump). An unbounded
// subscriber never blocks Publish but can grow without limit if never
// drained.
//
// The zero value is not usable; use NewEventBus.
type EventBus struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewEventBus returns a ready to use EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string]*Subscription),
	}
}

// Subscription is a handle to a live subscription on an EventBus. Its
// Events channel yields events in publish order until Unsubscribe is
// called or the bus itself decides the subscriber is gone.
type Subscription struct {
	id     string
	bus    *EventBus
	cfg    SubscribeConfig
	events chan Event
	done   chan struct{}
	doneOnce sync.Once

	// unbounded subscribers buffer here instead of blocking Publish.
	unboundedMu   sync.Mutex
	unboundedCond *sync.Cond
	unboundedQ    []Event
}

// Events returns the channel new events are delivered on.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Unsubscribe detaches the subscription from its bus. Idempotent. Future
// publishes silently skip this subscriber; already-queued events for an
// unbounded subscription are discarded.
func (s *Subscription) Unsubscribe() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.bus.remove(s)
		if s.unboundedCond != nil {
			s.unboundedMu.Lock()
			s.unboundedCond.Broadcast()
			s.unboundedMu.Unlock()
		}
	})
}

// Subscribe registers a new subscription. Subsequent Publish calls deliver
// events to it in order until Unsubscribe is called or the bus is closed.
func (b *EventBus) Subscribe(cfg SubscribeConfig) *Subscription {
	s := &Subscription{
		id:   uuid.NewString(),
		bus:  b,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	if cfg.Buffer > 0 {
		s.events = make(chan Event, cfg.Buffer)
	} else {
		s.events = make(chan Event)
		s.unboundedCond = sync.NewCond(&s.unboundedMu)
		go s.drainUnbounded()
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.closed = false
	b.mu.Unlock()

	return s
}

// remove detaches s from the bus. If this was the last live subscriber, the
// bus transitions to Closed: future Publish calls silently discard events
// until a new Subscribe call un-closes it.
func (b *EventBus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s.id)
	if len(b.subs) == 0 {
		b.closed = true
	}
	b.mu.Unlock()
}

// drainUnbounded feeds s.events from the unbounded queue as the subscriber
// consumes, so Publish never has to wait on this subscription.
func (s *Subscription) drainUnbounded() {
	for {
		s.unboundedMu.Lock()
		for len(s.unboundedQ) == 0 {
			select {
			case <-s.done:
				s.unboundedMu.Unlock()
				return
			default:
			}
			s.unboundedCond.Wait()
		}
		evt := s.unboundedQ[0]
		s.unboundedQ = s.unboundedQ[1:]
		s.unboundedMu.Unlock()

		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) enqueueUnbounded(evt Event) {
	s.unboundedMu.Lock()
	s.unboundedQ = append(s.unboundedQ, evt)
	s.unboundedCond.Signal()
	s.unboundedMu.Unlock()
}

// Publish delivers evt to every live subscriber whose filter accepts it; the
// order in which subscribers are visited is not defined. Bounded subscribers
// are delivered to synchronously, so a slow one blocks Publish (and thus the
// caller) until it drains or until ctx is done. Subscribers that have called Unsubscribe are pruned.
// If doing so leaves zero subscribers where there was previously at least
// one, the bus is marked closed and future events are silently discarded.
//
// Publish never fails on its own account; the returned error only reflects
// ctx cancellation while waiting on a bounded subscriber.
func (b *EventBus) Publish(ctx context.Context, evt Event) error {
	b.mu.Lock()
	if len(b.subs) == 0 {
		b.mu.Unlock()
		return nil
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	var live int
	for _, s := range subs {
		if s.cfg.Filter != nil && !s.cfg.Filter(evt) {
			live++
			continue
		}

		if s.unboundedCond != nil {
			select {
			case <-s.done:
				continue
			default:
			}
			s.enqueueUnbounded(evt)
			live++
			continue
		}

		select {
		case s.events <- evt:
			live++
		case <-s.done:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if live == 0 {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
	}
	return nil
}

// Closed reports whether every subscriber has unsubscribed. A freshly
// constructed bus with no subscribers is not considered closed; it becomes
// closed only once it had at least one subscriber and lost all of them.
func (b *EventBus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
