// Package router implements the Message Router: directed delivery and
// broadcast of CoordinationMessages between the supervisor and workers
// over the streams opened at process spawn.
package router

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/message"
	"github.com/zjrosen/warder/internal/pubsub"
	"github.com/zjrosen/warder/internal/werrors"
)

// Stream is the pair of process pipes the Router frames messages over.
// worker.Handle satisfies this structurally.
type Stream struct {
	WorkerID string
	Stdin    io.WriteCloser
	Stdout   io.ReadCloser
}

type route struct {
	mu     sync.Mutex
	stdin  io.WriteCloser
	cancel context.CancelFunc
	closed bool
}

// Router owns the worker-ID -> outbound-stream mapping and the merged
// inbound event broker.
type Router struct {
	mu     sync.RWMutex
	routes map[string]*route

	inbound *pubsub.Broker[message.CoordinationMessage]
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		routes:  make(map[string]*route),
		inbound: pubsub.NewBroker[message.CoordinationMessage](),
	}
}

// Inbound returns a subscription to every decoded inbound message,
// regardless of sender. Subscribers (Task Coordinator, File Sync Engine,
// logging) filter by CoordinationMessage.Kind().
func (r *Router) Inbound(ctx context.Context) <-chan pubsub.Event[message.CoordinationMessage] {
	return r.inbound.Subscribe(ctx)
}

// Register opens a route to a newly spawned worker: it remembers the
// stdin pipe for SendTo and starts a goroutine decoding frames from
// stdout onto the inbound broker until the stream closes or ctx is
// cancelled.
func (r *Router) Register(ctx context.Context, s Stream) {
	routeCtx, cancel := context.WithCancel(ctx)
	rt := &route{stdin: s.Stdin, cancel: cancel}

	r.mu.Lock()
	r.routes[s.WorkerID] = rt
	r.mu.Unlock()

	go r.readLoop(routeCtx, s.WorkerID, s.Stdout)
}

func (r *Router) readLoop(ctx context.Context, workerID string, stdout io.ReadCloser) {
	defer r.Unregister(workerID)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = stdout.Close()
		close(done)
	}()

	for {
		var msg message.CoordinationMessage
		if err := readFrame(stdout, &msg); err != nil {
			select {
			case <-done:
			default:
				log.Warn(log.CatRouter, "worker stream closed", "worker_id", workerID, "error", err.Error())
			}
			return
		}
		if msg.SenderID == "" {
			msg.SenderID = workerID
		}
		r.inbound.Publish(pubsub.UpdatedEvent, msg)
	}
}

// Unregister closes a worker's route. Safe to call more than once.
func (r *Router) Unregister(workerID string) {
	r.mu.Lock()
	rt, ok := r.routes[workerID]
	if ok {
		delete(r.routes, workerID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return
	}
	rt.closed = true
	rt.cancel()
	_ = rt.stdin.Close()
}

// SendTo delivers msg to one worker. Returns a werrors Unreachable error
// if the route is unknown or its stream is closed -- the Task Coordinator
// treats this as a Nack for any outstanding assignment.
func (r *Router) SendTo(workerID string, msg message.CoordinationMessage) error {
	r.mu.RLock()
	rt, ok := r.routes[workerID]
	r.mu.RUnlock()
	if !ok {
		return werrors.New(werrors.KindUnreachable, werrors.CodeWorkerNotFound, fmt.Sprintf("worker %q has no registered stream", workerID))
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return werrors.New(werrors.KindUnreachable, werrors.CodeWorkerNotFound, fmt.Sprintf("worker %q stream is closed", workerID))
	}
	if err := writeFrame(rt.stdin, msg); err != nil {
		return werrors.Wrap(werrors.KindUnreachable, werrors.CodeWorkerNotFound, fmt.Sprintf("worker %q write failed", workerID), err)
	}
	return nil
}

// Broadcast delivers msg to every worker currently registered, taking a
// snapshot of the route table at call time -- workers registered after
// the call do not receive it. excludeID, if non-empty, is skipped.
func (r *Router) Broadcast(msg message.CoordinationMessage, excludeID string) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		if id == excludeID {
			continue
		}
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.SendTo(id, msg); err != nil {
			log.Warn(log.CatRouter, "broadcast delivery failed", "worker_id", id, "error", err.Error())
		}
	}
}

// Registered reports whether workerID currently has an open route.
func (r *Router) Registered(workerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[workerID]
	return ok
}
