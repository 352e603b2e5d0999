package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBroker_Subscribe_ReceivesLogLine(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	broker.Publish(UpdatedEvent, "room payments-refactor: worker w3 started task t42")

	select {
	case event := <-ch:
		require.Equal(t, "room payments-refactor: worker w3 started task t42", event.Payload)
		require.Equal(t, UpdatedEvent, event.Type)
		require.False(t, event.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "timeout waiting for event")
	}
}

func TestBroker_MultipleSubscribers_AllReceiveSnapshot(t *testing.T) {
	broker := NewBroker[[]byte]()
	defer broker.Close()

	ctx := context.Background()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)
	ch3 := broker.Subscribe(ctx)

	require.Equal(t, 3, broker.SubscriberCount())

	snapshot := []byte(`{"type":"metrics","room_count":2}`)
	broker.Publish(CreatedEvent, snapshot)

	for i, ch := range []<-chan Event[[]byte]{ch1, ch2, ch3} {
		select {
		case event := <-ch:
			require.Equal(t, snapshot, event.Payload, "subscriber %d", i)
			require.Equal(t, CreatedEvent, event.Type, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			require.Fail(t, "timeout waiting for event", "subscriber %d", i)
		}
	}
}

func TestBroker_ContextCancellation_TearsDownSubscription(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())

	ch := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()
	time.Sleep(20 * time.Millisecond) // wait for the cleanup goroutine

	require.Equal(t, 0, broker.SubscriberCount())

	_, ok := <-ch
	require.False(t, ok, "channel should be closed once its context is cancelled")
}

func TestBroker_NonBlocking_DropsWhenSubscriberLagsBehind(t *testing.T) {
	broker := NewBrokerWithBuffer[[]byte](1)
	defer broker.Close()

	ctx := context.Background()

	ch := broker.Subscribe(ctx)

	// Fill the one-slot buffer, simulating a watch client that's fallen
	// behind the dashboard push channel's snapshot cadence.
	broker.Publish(UpdatedEvent, []byte("snapshot-1"))

	done := make(chan bool)
	go func() {
		broker.Publish(UpdatedEvent, []byte("snapshot-2"))
		broker.Publish(UpdatedEvent, []byte("snapshot-3"))
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		require.Fail(t, "Publish blocked on a full subscriber buffer")
	}

	event := <-ch
	require.Equal(t, []byte("snapshot-1"), event.Payload, "only the first snapshot fit before the buffer filled")
}

func TestBroker_Close_ClosesEverySubscriberAndRejectsNewOnes(t *testing.T) {
	broker := NewBroker[string]()

	ctx := context.Background()

	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)

	require.Equal(t, 2, broker.SubscriberCount())

	broker.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1, "ch1 should be closed")
	require.False(t, ok2, "ch2 should be closed")
	require.Equal(t, 0, broker.SubscriberCount())

	ch3 := broker.Subscribe(ctx)
	_, ok3 := <-ch3
	require.False(t, ok3, "subscribing after Close should hand back an already-closed channel")

	broker.Publish(UpdatedEvent, "daemon shutting down") // must not panic
}

func TestBroker_CloseIdempotent(t *testing.T) {
	broker := NewBroker[string]()

	ctx := context.Background()
	ch := broker.Subscribe(ctx)

	broker.Close()
	broker.Close()
	broker.Close()

	_, ok := <-ch
	require.False(t, ok, "channel should be closed")
}
