package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one bus event. A non-nil error from a handler on a
// non-error event causes the bus to synthesize and publish an ErrorEvent.
type Handler func(ctx context.Context, ev Event) error

// Subscription identifies one registered handler so it can be removed.
// The same handler function may be subscribed more than once; each call
// to Subscribe yields a distinct subscription.
type Subscription struct {
	eventType string
	handler   Handler
}

// MessageBus fans events out to subscribers with serial, at-most-once
// delivery per publish call. Handlers for one publish run in subscription
// order and each runs to completion before the next starts. Concurrent
// publishes may interleave.
type MessageBus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	closed bool
	log    *slog.Logger
}

// New creates a message bus. logger may be nil, in which case
// slog.Default() is used.
func New(logger *slog.Logger) *MessageBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBus{
		subs: make(map[string][]*Subscription),
		log:  logger,
	}
}

// Subscribe registers a handler for an event type and returns its
// subscription handle. Handlers are invoked in subscription order.
func (b *MessageBus) Subscribe(eventType string, h Handler) *Subscription {
	sub := &Subscription{eventType: eventType, handler: h}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sub // inert: closed bus never publishes
	}
	b.subs[eventType] = append(b.subs[eventType], sub)
	return sub
}

// Unsubscribe removes a single subscription. Removing an already-removed
// or foreign subscription is a no-op.
func (b *MessageBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.eventType]
	for i, s := range list {
		if s == sub {
			b.subs[sub.eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber of its type, in order, awaiting
// each handler. A handler error on a non-error event synthesizes exactly
// one ErrorEvent referencing ev; a handler error on an ErrorEvent is
// logged and swallowed so error handling never recurses.
func (b *MessageBus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	// Snapshot so handlers may subscribe/unsubscribe without deadlock.
	list := b.subs[ev.Type()]
	snapshot := make([]*Subscription, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		err := b.invoke(ctx, sub.handler, ev)
		if err == nil {
			continue
		}
		if ev.Type() == TypeError {
			b.log.Error("bus: error handler failed", "error", err)
			continue
		}
		b.log.Warn("bus: handler failed, publishing error event",
			"event_type", ev.Type(), "error", err)
		b.Publish(ctx, ErrorEvent{
			Err:       err,
			Source:    ev,
			Timestamp: time.Now(),
		})
	}
}

// PublishInbound is a convenience wrapper used by channel adapters.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) {
	b.Publish(ctx, InboundEvent{Message: msg})
}

// PublishOutbound is a convenience wrapper used by the agent runtime.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) {
	b.Publish(ctx, OutboundEvent{Message: msg})
}

// Close removes every subscriber. Subsequent publishes are no-ops.
func (b *MessageBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*Subscription)
}

// invoke runs a handler, converting a panic into an error so one bad
// subscriber cannot take down the publisher.
func (b *MessageBus) invoke(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = &panicError{value: r}
			}
		}
	}()
	return h(ctx, ev)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.value)
}
