// Package eventbus delivers playback events from the service to the
// presenter and any other listener in the process.
package eventbus

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tejashwikalptaru/reh/internal/domain"
	"github.com/tejashwikalptaru/reh/internal/ports"
)

// ErrClosed is returned by Close on a bus that is already closed.
var ErrClosed = errors.New("event bus closed")

// anyType marks a subscription that receives every event.
const anyType domain.EventType = ""

type subscription struct {
	id        domain.SubscriptionID
	eventType domain.EventType
	handler   domain.EventHandler
}

// Bus calls handlers on the publishing goroutine, in the order they
// subscribed. Types registered with CoalesceLatest are delivered by at most
// one goroutine at a time; events published meanwhile collapse into the
// newest one.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   []subscription
	closed bool

	latest map[domain.EventType]*latestSlot
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger reports handler panics to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// CoalesceLatest makes the given types latest-wins. Progress ticks are the
// intended use: a slow view should see the newest position, not a backlog.
func CoalesceLatest(types ...domain.EventType) Option {
	return func(b *Bus) {
		for _, t := range types {
			b.latest[t] = &latestSlot{}
		}
	}
}

// New returns an open bus.
func New(opts ...Option) *Bus {
	b := &Bus{latest: make(map[domain.EventType]*latestSlot)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers event to its subscribers. It does nothing once the bus
// is closed.
func (b *Bus) Publish(event domain.Event) {
	if event == nil {
		return
	}
	slot, ok := b.latest[event.Type()]
	if !ok {
		b.deliver(event)
		return
	}
	if !slot.offer(event) {
		return
	}
	for next, ok := slot.take(); ok; next, ok = slot.take() {
		b.deliver(next)
	}
}

func (b *Bus) deliver(event domain.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var targets []subscription
	for _, s := range b.subs {
		if s.eventType == anyType || s.eventType == event.Type() {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.call(s, event)
	}
}

// call runs one handler. A panicking handler is logged and skipped.
func (b *Bus) call(s subscription, event domain.Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked",
				slog.Any("panic", r),
				slog.String("event_type", string(event.Type())),
				slog.String("subscription", string(s.id)))
		}
	}()
	s.handler(event)
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID {
	if eventType == anyType {
		panic("eventbus: empty event type")
	}
	return b.add(eventType, handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler domain.EventHandler) domain.SubscriptionID {
	return b.add(anyType, handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID {
	if handler == nil {
		panic("eventbus: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("eventbus: subscribe on closed bus")
	}
	id := domain.SubscriptionID(uuid.NewString())
	b.subs = append(b.subs, subscription{id: id, eventType: eventType, handler: handler})
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *Bus) Unsubscribe(id domain.SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// HasSubscribers reports whether publishing eventType would reach anyone.
func (b *Bus) HasSubscribers(eventType domain.EventType) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.eventType == anyType || s.eventType == eventType {
			return true
		}
	}
	return false
}

// Close drops every subscription. Later publishes are ignored.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	b.subs = nil
	return nil
}

// latestSlot holds the newest undelivered event of a coalesced type.
type latestSlot struct {
	mu       sync.Mutex
	pending  domain.Event
	draining bool
}

// offer stores e and reports whether the caller must drain the slot.
func (l *latestSlot) offer(e domain.Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = e
	if l.draining {
		return false
	}
	l.draining = true
	return true
}

// take hands out the pending event. When none is left the drainer role is
// released.
func (l *latestSlot) take() (domain.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.pending
	l.pending = nil
	if e == nil {
		l.draining = false
		return nil, false
	}
	return e, true
}

var _ ports.EventBus = (*Bus)(nil)
