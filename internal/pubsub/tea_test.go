package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenCmd_ReceivesLogEventAsTeaMsg(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := broker.Subscribe(ctx)

	broker.Publish(UpdatedEvent, "worker w1 claimed task t7")

	cmd := ListenCmd(ctx, ch)
	msg := cmd()

	event, ok := msg.(Event[string])
	require.True(t, ok, "msg should be Event[string]")
	require.Equal(t, "worker w1 claimed task t7", event.Payload)
	require.Equal(t, UpdatedEvent, event.Type)
}

func TestListenCmd_ContextCancelledReturnsNil(t *testing.T) {
	broker := NewBroker[string]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx)

	cancel()
	time.Sleep(20 * time.Millisecond) // wait for the cleanup goroutine

	cmd := ListenCmd(ctx, ch)
	msg := cmd()

	require.Nil(t, msg, "a cancelled subscription must not deliver a stale event")
}

func TestListenCmd_ClosedChannelReturnsNil(t *testing.T) {
	ch := make(chan Event[string])
	close(ch)

	ctx := context.Background()

	cmd := ListenCmd(ctx, ch)
	msg := cmd()

	require.Nil(t, msg, "a closed broker channel must not be mistaken for a real event")
}

func TestContinuousListener_Listen_ReplaysEventsOneAtATime(t *testing.T) {
	broker := NewBroker[[]byte]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := NewContinuousListener(ctx, broker)

	broker.Publish(CreatedEvent, []byte("snapshot-1"))
	broker.Publish(UpdatedEvent, []byte("snapshot-2"))
	broker.Publish(DeletedEvent, []byte("snapshot-3"))

	cmd := listener.Listen()
	msg := cmd()
	event, ok := msg.(Event[[]byte])
	require.True(t, ok, "msg should be Event[[]byte]")
	require.Equal(t, []byte("snapshot-1"), event.Payload)
	require.Equal(t, CreatedEvent, event.Type)

	cmd = listener.Listen()
	msg = cmd()
	event, ok = msg.(Event[[]byte])
	require.True(t, ok, "msg should be Event[[]byte]")
	require.Equal(t, []byte("snapshot-2"), event.Payload)
	require.Equal(t, UpdatedEvent, event.Type)

	cmd = listener.Listen()
	msg = cmd()
	event, ok = msg.(Event[[]byte])
	require.True(t, ok, "msg should be Event[[]byte]")
	require.Equal(t, []byte("snapshot-3"), event.Payload)
	require.Equal(t, DeletedEvent, event.Type)
}
