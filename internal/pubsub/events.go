// Package pubsub is warder's generic fan-out primitive: one typed broker,
// any number of subscribers, each with its own buffered channel. It backs
// three independent feeds in the daemon: internal/log's rolling log entries
// (Broker[string]), internal/router's inbound coordination-message bus
// (Broker[message.CoordinationMessage]), and internal/dashboard's push-channel
// snapshot frames (Broker[[]byte]). None of those domains leak into this
// package; it only ever sees the type parameter its caller chose.
package pubsub

import (
	"context"
	"time"
)

// EventType classifies why an event was published, independent of T.
type EventType string

const (
	// CreatedEvent marks the first observation of something new, e.g. a
	// room added to the supervisor's table.
	CreatedEvent EventType = "created"
	// UpdatedEvent marks a change to something already known, e.g. a
	// fresher dashboard snapshot or a log line appended to the ring buffer.
	UpdatedEvent EventType = "updated"
	// DeletedEvent marks removal, e.g. a room torn down.
	DeletedEvent EventType = "deleted"
)

// Event is one delivery: a typed payload, why it was published, and when.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber is the read side of a broker: a channel of events scoped to
// ctx's lifetime.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher is the write side of a broker.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
