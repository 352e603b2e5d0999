package pubsub

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// ListenCmd adapts a single receive from ch into a tea.Cmd: the Bubble Tea
// runtime calls it, it blocks until an event arrives (or ctx ends, or the
// channel closes), and the event comes back through Update as a tea.Msg of
// type Event[T]. A future warder TUI that wants to tail internal/log's
// broker in-process, rather than over the dashboard push socket the way
// `warder watch` does today, would drive its log pane with this.
func ListenCmd[T any](ctx context.Context, ch <-chan Event[T]) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			return event
		}
	}
}

// ContinuousListener re-subscribes a Bubble Tea model to the next event
// after each one is handled. Bubble Tea commands fire once, so without this
// a model would receive exactly one broker event and then fall silent; the
// model's Update is expected to call Listen() again every time it handles
// the Event[T] this produces.
type ContinuousListener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewContinuousListener subscribes to broker and holds the resulting
// channel for repeated use by Listen. The subscription ends when ctx ends.
func NewContinuousListener[T any](ctx context.Context, broker *Broker[T]) *ContinuousListener[T] {
	return &ContinuousListener[T]{
		ctx: ctx,
		ch:  broker.Subscribe(ctx),
	}
}

// Listen returns the tea.Cmd for the next event on this subscription.
func (l *ContinuousListener[T]) Listen() tea.Cmd {
	return ListenCmd(l.ctx, l.ch)
}
