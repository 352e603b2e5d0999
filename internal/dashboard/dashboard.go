// Package dashboard implements the Dashboard Push Channel: a read-only
// loopback TCP socket streaming periodic JSON snapshots of rooms,
// workers, the task board, and ad-hoc alerts to any observer that
// connects.
package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/pubsub"
	"github.com/zjrosen/warder/internal/room"
	"github.com/zjrosen/warder/internal/task"
	"github.com/zjrosen/warder/internal/worker"
)

// MetricsSnapshot is the "metrics" push variant: coarse system counters.
type MetricsSnapshot struct {
	Type          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	RoomCount     int       `json:"room_count"`
	WorkerCount   int       `json:"worker_count"`
	TaskCounts    map[string]int `json:"task_counts"`
	ConflictCount int       `json:"conflict_count"`
}

// TaskBoardSnapshot is the "task_board" push variant: tasks grouped by
// state, the shape a kanban-style dashboard renders directly.
type TaskBoardSnapshot struct {
	Type      string                     `json:"type"`
	Timestamp time.Time                  `json:"timestamp"`
	Tasks     map[task.State][]task.Snapshot `json:"tasks"`
}

// ProcessesSnapshot is the "processes" push variant: per-room worker
// state.
type ProcessesSnapshot struct {
	Type      string                      `json:"type"`
	Timestamp time.Time                   `json:"timestamp"`
	Rooms     []room.Room                 `json:"rooms"`
	Workers   []worker.Snapshot           `json:"workers"`
}

// AlertSnapshot is the "alert" push variant: an out-of-band event worth
// surfacing immediately rather than waiting for the next periodic tick.
type AlertSnapshot struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

// Source supplies the data each periodic snapshot is built from. The
// supervisor's composed view over the Room Manager, Process Supervisor,
// and Task Coordinator satisfies this.
type Source interface {
	Rooms() []room.Room
	Workers() []worker.Snapshot
	Tasks() []task.Snapshot
	ConflictCount() int
}

// Config controls the push socket's address and emission cadence.
type Config struct {
	Addr             string
	SnapshotInterval time.Duration
	MaxSnapshotBytes int
}

// Channel owns the TCP listener and the broker fanning snapshots out to
// every connected observer.
type Channel struct {
	cfg    Config
	source Source
	broker *pubsub.Broker[[]byte]
}

// New creates a Channel. Snapshots are not produced until Run is started
// and connections are not accepted until Serve is started.
func New(cfg Config, source Source) *Channel {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = time.Second
	}
	if cfg.MaxSnapshotBytes <= 0 {
		cfg.MaxSnapshotBytes = 256 * 1024
	}
	return &Channel{
		cfg:    cfg,
		source: source,
		broker: pubsub.NewBrokerWithBuffer[[]byte](32),
	}
}

// Serve accepts observer connections until ctx is cancelled. Each
// connection gets its own subscription to the broker; a slow observer's
// backlog is bounded by the broker's buffer and newer snapshots are
// dropped for it rather than blocking producers.
func (c *Channel) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Info(log.CatDashboard, "push channel listening", "addr", c.cfg.Addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go c.handleConn(ctx, conn)
	}
}

func (c *Channel) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Observers are not expected to send anything; drain and discard so
	// a half-open connection doesn't pile up kernel buffers, and notice
	// when the peer disconnects.
	go func() {
		_, _ = io.Copy(io.Discard, conn)
		cancel()
	}()

	sub := c.broker.Subscribe(connCtx)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if _, err := conn.Write(append(ev.Payload, '\n')); err != nil {
				return
			}
		case <-connCtx.Done():
			return
		}
	}
}

// Run produces periodic snapshots until ctx is cancelled. Callers run it
// in its own goroutine alongside Serve.
func (c *Channel) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.emitPeriodic()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) emitPeriodic() {
	now := time.Now()
	rooms := c.source.Rooms()
	workers := c.source.Workers()
	tasks := c.source.Tasks()

	taskCounts := make(map[string]int)
	byState := make(map[task.State][]task.Snapshot)
	for _, t := range tasks {
		taskCounts[string(t.State)]++
		byState[t.State] = append(byState[t.State], t)
	}

	c.publish(MetricsSnapshot{
		Type:          "metrics",
		Timestamp:     now,
		RoomCount:     len(rooms),
		WorkerCount:   len(workers),
		TaskCounts:    taskCounts,
		ConflictCount: c.source.ConflictCount(),
	})
	c.publish(TaskBoardSnapshot{Type: "task_board", Timestamp: now, Tasks: byState})
	c.publish(ProcessesSnapshot{Type: "processes", Timestamp: now, Rooms: rooms, Workers: workers})
}

// PublishAlert emits an out-of-band alert snapshot immediately, bypassing
// the periodic cadence.
func (c *Channel) PublishAlert(severity, message string) {
	c.publish(AlertSnapshot{Type: "alert", Timestamp: time.Now(), Severity: severity, Message: message})
}

func (c *Channel) publish(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Warn(log.CatDashboard, "failed to marshal snapshot", "error", err.Error())
		return
	}
	if len(body) > c.cfg.MaxSnapshotBytes {
		log.Warn(log.CatDashboard, "snapshot exceeds max size, dropping", "bytes", len(body), "max", c.cfg.MaxSnapshotBytes)
		return
	}
	c.broker.Publish(pubsub.UpdatedEvent, body)
}
