// Package hooks implements the workflow event bus. It is grounded on the
// teacher's runtime/agent/hooks package (Bus/Subscriber/Subscription and the
// baseEvent-embedding event catalog), adapted to the non-blocking,
// error-swallowing delivery semantics this engine requires: emission must
// never propagate a subscriber failure back into the executor that raised
// the event, and a slow or misbehaving subscriber must not block the
// workflow driving the event.
package hooks

import (
	"context"
	"errors"
	"sync"

	"github.com/thomasrohde/strandsflow/telemetry"
)

type (
	// Bus publishes workflow events to registered subscribers in a fan-out
	// pattern. The bus is thread-safe and supports concurrent Publish,
	// Register, and Close operations.
	//
	// Unlike a fail-fast bus, Publish never returns a subscriber's error to
	// the caller: each subscriber is invoked independently and a failure is
	// logged and swallowed so that one broken subscriber can never stall or
	// abort workflow execution.
	Bus interface {
		// Publish delivers event to every currently registered subscriber.
		// Publish itself never blocks on a subscriber for longer than the
		// subscriber chooses to take in its own goroutine when registered
		// as async; synchronous subscribers run one after another in the
		// caller's goroutine, in no defined order.
		Publish(ctx context.Context, event Event)

		// Register adds a subscriber to the bus and returns a Subscription
		// that can be closed to unregister. Register returns an error if
		// sub is nil.
		Register(sub Subscriber) (Subscription, error)

		// RegisterAsync is like Register but dispatches events to sub on
		// its own goroutine per Publish call, so a slow subscriber never
		// delays delivery to other subscribers or the publisher's return.
		RegisterAsync(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published workflow events by implementing
	// HandleEvent.
	Subscriber interface {
		// HandleEvent processes a single event. A returned error is logged
		// by the bus but never halts delivery to other subscribers and
		// never propagates to the publisher.
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration on a Bus. Calling
	// Close removes the subscriber; Close is idempotent and safe to call
	// multiple times.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]entry
		logger      telemetry.Logger
	}

	entry struct {
		sub   Subscriber
		async bool
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs a new in-memory event bus. logger receives subscriber
// errors; pass telemetry.NoopLogger() if no logging is desired.
func NewBus(logger telemetry.Logger) Bus {
	if logger == nil {
		logger = telemetry.NoopLogger()
	}
	return &bus{subscribers: make(map[*subscription]entry), logger: logger}
}

// Publish delivers event to every currently registered subscriber.
// Synchronous subscribers run one after another in the caller's goroutine;
// their order is not defined (registration order is not kept). Async
// subscribers are dispatched on their own goroutine. A
// subscriber error is logged and never returned to the caller, and one
// subscriber's error never prevents another subscriber from receiving the
// event.
func (b *bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	entries := make([]entry, 0, len(b.subscribers))
	for _, e := range b.subscribers {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	for _, e := range entries {
		if e.async {
			go b.dispatch(ctx, e.sub, event)
			continue
		}
		b.dispatch(ctx, e.sub, event)
	}
}

func (b *bus) dispatch(ctx context.Context, sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("hooks: subscriber panicked", telemetry.F("event_type", string(event.Type())), telemetry.F("panic", r))
		}
	}()
	if err := sub.HandleEvent(ctx, event); err != nil {
		b.logger.Error("hooks: subscriber returned error", telemetry.F("event_type", string(event.Type())), telemetry.F("error", err.Error()))
	}
}

// Register adds a synchronous subscriber to the bus.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	return b.register(sub, false)
}

// RegisterAsync adds an asynchronous subscriber to the bus.
func (b *bus) RegisterAsync(sub Subscriber) (Subscription, error) {
	return b.register(sub, true)
}

func (b *bus) register(sub Subscriber, async bool) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("hooks: subscriber is required")
	}
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = entry{sub: sub, async: async}
	b.mu.Unlock()
	return s, nil
}

// Close removes the subscriber from the bus. Idempotent and thread-safe.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}
