package pubsub

import (
	"context"
	"sync"
	"time"
)

// defaultSubscriberBuffer is the per-subscriber channel depth used by
// NewBroker. internal/dashboard asks for a smaller buffer explicitly via
// NewBrokerWithBuffer since its snapshots are large and already coalesced
// upstream by its ticker.
const defaultSubscriberBuffer = 64

// Broker is a generic, in-process pub/sub hub: Publish fans a value out to
// every live Subscribe-r without the publisher knowing or caring who, if
// anyone, is listening. A slow or absent subscriber never blocks a
// publisher; its buffer just fills and starts dropping.
type Broker[T any] struct {
	mu           sync.RWMutex
	subs         map[chan Event[T]]struct{}
	closedSignal chan struct{}
	subBuffer    int
}

// NewBroker creates a broker whose subscriber channels hold
// defaultSubscriberBuffer pending events before Publish starts dropping.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultSubscriberBuffer)
}

// NewBrokerWithBuffer creates a broker with a caller-chosen per-subscriber
// buffer depth.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:         make(map[chan Event[T]]struct{}),
		closedSignal: make(chan struct{}),
		subBuffer:    size,
	}
}

// isClosed reports whether Close has run, without blocking on b.mu: callers
// already hold it.
func (b *Broker[T]) isClosed() bool {
	select {
	case <-b.closedSignal:
		return true
	default:
		return false
	}
}

// Subscribe returns a channel of future events. The channel is closed, and
// the subscription torn down, as soon as ctx is cancelled — a caller that
// never cancels its context leaks a slot in the broker until Close.
// Subscribing to an already-closed broker returns a channel that is closed
// immediately.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed() {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := make(chan Event[T], b.subBuffer)
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.isClosed() {
			return
		}
		delete(b.subs, sub)
		close(sub)
	}()

	return sub
}

// Publish stamps payload with the current time and delivers it to every
// live subscriber. Delivery is non-blocking per subscriber: a full buffer
// means that subscriber misses this event rather than stalling the
// publisher — internal/log, internal/router, and internal/dashboard all
// publish from hot paths that must never wait on a reader.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isClosed() {
		return
	}

	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	for sub := range b.subs {
		select {
		case sub <- event:
		default: // subscriber's buffer is full; drop rather than block Publish
		}
	}
}

// Close shuts the broker down: every subscriber channel is closed and
// further Subscribe calls return an already-closed channel. Safe to call
// more than once and safe to call concurrently with Publish/Subscribe.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isClosed() {
		return
	}

	close(b.closedSignal)
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

// SubscriberCount reports how many subscriptions are currently live. Used
// by tests and by anything that wants to skip publishing work when no one
// is listening.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
