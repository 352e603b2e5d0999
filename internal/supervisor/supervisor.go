// Package supervisor wires the Room Manager, Process Supervisor, Task
// Coordinator, Message Router, and File Sync Engine into one lifecycle,
// and implements the interfaces the IPC Hub and Dashboard Push Channel
// need to observe and drive that composed state.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/warder/internal/config"
	"github.com/zjrosen/warder/internal/filesync"
	"github.com/zjrosen/warder/internal/ids"
	"github.com/zjrosen/warder/internal/ipc"
	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/message"
	"github.com/zjrosen/warder/internal/room"
	"github.com/zjrosen/warder/internal/router"
	"github.com/zjrosen/warder/internal/task"
	"github.com/zjrosen/warder/internal/tracing"
	"github.com/zjrosen/warder/internal/worker"
)

// selfID identifies the supervisor as a CoordinationMessage sender, the
// counterpart of each worker's own ID.
const selfID = "supervisor"

// Supervisor owns C (Process Supervisor), D (Room Manager), E (Task
// Coordinator), F (Message Router), and G (File Sync Engine), and the
// goroutines gluing them together. The IPC Hub (H) and Dashboard Push
// Channel (I) are constructed around it separately -- it satisfies
// ipc.Backend and dashboard.Source rather than owning those sockets.
type Supervisor struct {
	cfg           config.Config
	clock         ids.Clock
	stateFilePath string

	rooms    *room.Manager
	workers  *worker.Supervisor
	router   *router.Router
	tasks    *task.Coordinator
	fsync    *filesync.Engine
	watcher  *filesync.Watcher
	tracer   trace.Tracer

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	shutdownOnce sync.Once
	doneCh       chan struct{}
}

// New wires every component from cfg. stateFilePath is where the room
// table is persisted across restarts; an empty string disables
// persistence. tracer may be nil, in which case scheduling ticks and
// file-sync merges are not traced.
func New(cfg config.Config, stateFilePath string, clock ids.Clock, tracer trace.Tracer) (*Supervisor, error) {
	if clock == nil {
		clock = ids.SystemClock{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}

	workers := worker.New(worker.Config{
		AllowedCommands:      cfg.Workers.AllowedCommands,
		StartupTimeout:       cfg.Workers.StartupTimeout,
		HeartbeatInterval:    cfg.Workers.HeartbeatInterval,
		MissedHeartbeatLimit: cfg.Workers.MissedHeartbeatLimit,
		KillGracePeriod:      cfg.Workers.KillGracePeriod,
		RestartPolicy:        cfg.Workers.RestartPolicy,
		MaxRestarts:          cfg.Workers.MaxRestarts,
		RestartBackoffMin:    cfg.Workers.RestartBackoffMin,
		RestartBackoffMax:    cfg.Workers.RestartBackoffMax,
	}, 64)

	rooms := room.New(room.Config{MaxRooms: cfg.Rooms.MaxRooms}, workers)

	rtr := router.New()

	perWorkerCap := cfg.Workers.MaxTasksPerWorker
	if perWorkerCap <= 0 {
		perWorkerCap = 4
	}

	tasks := task.New(task.Config{
		LoadScoreAlpha: cfg.Scheduler.LoadScoreAlpha,
		AckWindow:      cfg.Scheduler.AckWindow,
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
		CooldownBase:   cfg.Scheduler.CooldownBase,
	}, clock, &dispatcherAdapter{router: rtr, workers: workers}, &candidateSource{workers: workers, cap: perWorkerCap}, selfID)

	fsEngine := filesync.New(filesync.Config{
		Roots:          cfg.FileSync.Roots,
		Excludes:       cfg.FileSync.Excludes,
		DebounceWindow: cfg.FileSync.DebounceWindow,
		HistoryDepth:   cfg.FileSync.HistoryDepth,
	}, clock, &changeNotifier{router: rtr})

	watcher, err := filesync.NewWatcher(fsEngine)
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	return &Supervisor{
		cfg:           cfg,
		clock:         clock,
		stateFilePath: stateFilePath,
		rooms:         rooms,
		workers:       workers,
		router:        rtr,
		tasks:         tasks,
		fsync:         fsEngine,
		watcher:       watcher,
		tracer:        tracer,
		doneCh:        make(chan struct{}),
	}, nil
}

// Start loads any persisted room state, begins watching the filesystem,
// and launches the background goroutines that carry inbound coordination
// messages, worker state changes, and the scheduling tick.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.stateFilePath != "" {
		if err := s.rooms.LoadState(s.stateFilePath); err != nil {
			return fmt.Errorf("loading room state: %w", err)
		}
	}

	s.bgCtx, s.bgCancel = context.WithCancel(ctx)
	s.watcher.Start()

	s.wg.Add(3)
	go s.runInbound(s.bgCtx)
	go s.runWorkerChanges(s.bgCtx)
	go s.runScheduler(s.bgCtx)

	log.Info(log.CatSupervisor, "supervisor started")
	return nil
}

// Done is closed once a Shutdown request has finished draining every
// component. Callers (cmd/serve) use it to know when it is safe to stop
// the IPC Hub and Dashboard Push Channel's own listeners.
func (s *Supervisor) Done() <-chan struct{} { return s.doneCh }

// Shutdown implements ipc.Backend. It is triggered by a client's
// Shutdown request; the actual drain runs asynchronously so the Hub can
// still write back the Ok response before the process goes down.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		go func() {
			s.Stop()
			close(s.doneCh)
		}()
	})
}

// Stop drains E (Task Coordinator) -> F (Message Router) -> G (File Sync
// Engine) -> D (Room Manager) -> C (Process Supervisor), in that order,
// each step best-effort and logged rather than fatal. The IPC Hub and
// Dashboard Push Channel (I, H) are expected to have already stopped
// accepting new connections before this runs.
func (s *Supervisor) Stop() {
	log.Info(log.CatSupervisor, "shutdown: stopping scheduler and message dispatch")
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.waitBackground(3 * time.Second)

	log.Info(log.CatSupervisor, "shutdown: stopping file watcher")
	if err := s.watcher.Stop(); err != nil {
		log.Warn(log.CatSupervisor, "file watcher stop failed", "error", err.Error())
	}

	if s.stateFilePath != "" {
		log.Info(log.CatSupervisor, "shutdown: persisting room state")
		if err := s.rooms.SaveState(s.stateFilePath); err != nil {
			log.Warn(log.CatSupervisor, "saving room state failed", "error", err.Error())
		}
	}

	log.Info(log.CatSupervisor, "shutdown: stopping workers")
	for _, w := range s.workers.List() {
		if w.State.IsTerminal() {
			continue
		}
		if err := s.workers.Kill(w.ID); err != nil {
			log.Warn(log.CatSupervisor, "worker kill failed during shutdown", "worker_id", w.ID, "error", err.Error())
		}
		s.router.Unregister(w.ID)
	}

	log.Info(log.CatSupervisor, "shutdown complete")
}

func (s *Supervisor) waitBackground(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn(log.CatSupervisor, "background goroutines did not exit within grace period")
	}
}

// runInbound dispatches every decoded coordination message to the
// component it concerns: task results and acks to the Task Coordinator,
// heartbeats to the Process Supervisor, file changes to the File Sync
// Engine, and error reports to the log.
func (s *Supervisor) runInbound(ctx context.Context) {
	defer s.wg.Done()
	ch := s.router.Inbound(ctx)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.handleInbound(ev.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) handleInbound(msg message.CoordinationMessage) {
	switch msg.Kind() {
	case "TaskResult":
		tr := msg.TaskResult
		if err := s.tasks.Complete(tr.TaskID, tr.Success, tr.Reason); err != nil {
			log.Warn(log.CatSupervisor, "recording task result failed", "task_id", tr.TaskID, "error", err.Error())
		}
		if err := s.workers.CompleteTask(msg.SenderID, tr.Success); err != nil {
			log.Warn(log.CatSupervisor, "worker task-count bookkeeping failed", "worker_id", msg.SenderID, "error", err.Error())
		}

	case "StatusUpdate":
		su := msg.StatusUpdate
		if err := s.workers.Heartbeat(su.WorkerID); err != nil {
			log.Warn(log.CatSupervisor, "heartbeat bookkeeping failed", "worker_id", su.WorkerID, "error", err.Error())
		}
		if su.Ack == nil || su.TaskID == "" {
			return
		}
		if *su.Ack {
			if err := s.tasks.Ack(su.TaskID); err != nil {
				log.Warn(log.CatSupervisor, "task ack failed", "task_id", su.TaskID, "error", err.Error())
			}
		} else {
			if err := s.tasks.Nack(su.TaskID); err != nil {
				log.Warn(log.CatSupervisor, "task nack failed", "task_id", su.TaskID, "error", err.Error())
			}
			if err := s.workers.CompleteTask(su.WorkerID, false); err != nil {
				log.Warn(log.CatSupervisor, "worker task-count bookkeeping failed", "worker_id", su.WorkerID, "error", err.Error())
			}
		}

	case "FileChangeNotice":
		fc := msg.FileChangeNotice
		_, span := s.tracer.Start(context.Background(), tracing.SpanPrefixMerge+"admit")
		span.SetAttributes(attribute.String(tracing.AttrFilePath, fc.Path))
		conflictID, err := s.fsync.Admit(fc.Path, fc.WorkerID, fc.BeforeHash, string(fc.Content))
		if err != nil {
			log.Warn(log.CatSupervisor, "file change rejected", "path", fc.Path, "error", err.Error())
			span.RecordError(err)
		} else if conflictID != "" {
			log.Warn(log.CatSupervisor, "file change produced a conflict", "path", fc.Path, "conflict_id", conflictID)
			span.AddEvent(tracing.EventConflictOpened, trace.WithAttributes(attribute.String(tracing.AttrConflictID, conflictID)))
		}
		span.End()

	case "ErrorReport":
		er := msg.ErrorReport
		log.Warn(log.CatSupervisor, "worker error report", "source", er.Source, "message", er.Message)
	}
}

// runWorkerChanges reacts to a worker permanently leaving the pool: its
// in-flight tasks are returned to the queue and its room roster and
// router route are cleaned up.
func (s *Supervisor) runWorkerChanges(ctx context.Context) {
	defer s.wg.Done()
	ch := s.workers.Changes()
	for {
		select {
		case chg, ok := <-ch:
			if !ok {
				return
			}
			if chg.To == worker.StateFailed || chg.To == worker.StateStopped {
				s.tasks.ReassignWorkerLoss(chg.WorkerID)
				s.rooms.ReactToWorkerLoss(chg.WorkerID)
				s.router.Unregister(chg.WorkerID)
			}
		case <-ctx.Done():
			return
		}
	}
}

// runScheduler drives the Task Coordinator's periodic tick.
func (s *Supervisor) runScheduler(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.Scheduler.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, span := tracing.StartTickSpan(ctx, s.tracer, "all")
			s.tasks.Tick()
			tracing.EndTickSpan(span, nil)
		case <-ctx.Done():
			return
		}
	}
}

// candidateSource adapts the Process Supervisor's worker table into the
// Task Coordinator's WorkerSource, filtering to workers that are Idle or
// Busy under their per-worker task cap.
type candidateSource struct {
	workers *worker.Supervisor
	cap     int
}

func (c *candidateSource) Candidates(roomName string) []task.WorkerCandidate {
	var out []task.WorkerCandidate
	for _, snap := range c.workers.ListByRoom(roomName) {
		if !snap.State.IsActive() {
			continue
		}
		if snap.State == worker.StateBusy && snap.RunningTaskCount >= c.cap {
			continue
		}
		out = append(out, task.WorkerCandidate{
			ID:               snap.ID,
			Room:             snap.Room,
			RunningTaskCount: snap.RunningTaskCount,
			Cap:              c.cap,
			RecentFailures:   snap.Failures,
			RecentCompletes:  snap.TasksCompleted,
		})
	}
	return out
}

// dispatcherAdapter adapts the Message Router into the Task Coordinator's
// Dispatcher, additionally recording a successfully sent TaskAssignment
// against the worker's running-task count so load_score reflects it
// before that worker's next heartbeat.
type dispatcherAdapter struct {
	router  *router.Router
	workers *worker.Supervisor
}

func (d *dispatcherAdapter) SendTo(workerID string, msg message.CoordinationMessage) error {
	if err := d.router.SendTo(workerID, msg); err != nil {
		return err
	}
	if msg.TaskAssignment != nil {
		if err := d.workers.AssignTask(workerID); err != nil {
			log.Warn(log.CatSupervisor, "assign bookkeeping failed", "worker_id", workerID, "error", err.Error())
		}
	}
	return nil
}

// changeNotifier adapts the Message Router into the File Sync Engine's
// Notifier, broadcasting a merged or applied change to every worker
// except the one that originated it.
type changeNotifier struct {
	router *router.Router
}

func (n *changeNotifier) NotifyChange(c filesync.Change) {
	msg := message.CoordinationMessage{
		SenderID:  selfID,
		Timestamp: c.Timestamp,
		FileChangeNotice: &message.FileChangeNotice{
			Path:       c.Path,
			WorkerID:   c.WorkerID,
			BeforeHash: c.BeforeHash,
			AfterHash:  c.AfterHash,
			Content:    []byte(c.Content),
		},
	}
	n.router.Broadcast(msg, c.WorkerID)
}

// -- ipc.Backend --

func (s *Supervisor) Status() ipc.StatusReport {
	return ipc.StatusReport{
		Rooms:     s.rooms.List(),
		Workers:   s.workers.List(),
		Tasks:     s.tasks.List(),
		Conflicts: s.fsync.Conflicts(),
	}
}

func (s *Supervisor) RoomCreate(name, template string) (room.Room, error) {
	if template == "" {
		template = s.cfg.Rooms.DefaultTemplate
	}
	r, err := s.rooms.Create(name, template)
	if err != nil {
		return room.Room{}, err
	}
	return *r, nil
}

func (s *Supervisor) RoomSwitch(name string) error { return s.rooms.Switch(name) }

// RoomDelete stops every worker in the room and removes it. If that
// takes longer than the configured grace period the deletion continues
// in the background rather than blocking the caller indefinitely.
func (s *Supervisor) RoomDelete(name string) error {
	grace := s.cfg.Rooms.DeleteGracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	done := make(chan error, 1)
	go func() { done <- s.rooms.Delete(name) }()
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		log.Warn(log.CatSupervisor, "room delete exceeded grace period, continuing in background", "room", name)
		return nil
	}
}

func (s *Supervisor) RoomList() []room.Room { return s.rooms.List() }

// ProcessSpawn starts a worker and registers its streams with the
// Message Router. The process and its route are tied to the
// supervisor's own lifetime, not to the IPC request's timeout context.
func (s *Supervisor) ProcessSpawn(_ context.Context, id, command, roomName string, args []string, env map[string]string) error {
	if id == "" {
		id = ids.NewWorkerToken()
	}
	handle, err := s.workers.Spawn(s.bgCtx, id, roomName, command, args, env)
	if err != nil {
		return err
	}
	s.router.Register(s.bgCtx, router.Stream{WorkerID: handle.WorkerID, Stdin: handle.Stdin, Stdout: handle.Stdout})
	if err := s.rooms.AttachWorker(roomName, id); err != nil {
		log.Warn(log.CatSupervisor, "attaching worker to room failed", "room", roomName, "worker_id", id, "error", err.Error())
	}
	return nil
}

func (s *Supervisor) ProcessKill(id string) error {
	if err := s.workers.Kill(id); err != nil {
		return err
	}
	s.router.Unregister(id)
	s.rooms.ReactToWorkerLoss(id)
	s.tasks.ReassignWorkerLoss(id)
	return nil
}

func (s *Supervisor) ProcessRestart(_ context.Context, id string) error {
	s.router.Unregister(id)
	handle, err := s.workers.Restart(s.bgCtx, id)
	if err != nil {
		return err
	}
	s.router.Register(s.bgCtx, router.Stream{WorkerID: handle.WorkerID, Stdin: handle.Stdin, Stdout: handle.Stdout})
	return nil
}

func (s *Supervisor) ProcessList() []worker.Snapshot { return s.workers.List() }

func (s *Supervisor) TaskEnqueue(req ipc.TaskEnqueueRequest) (string, error) {
	roomName := req.Room
	if roomName == "" {
		roomName = room.DefaultRoom
	}
	return s.tasks.EnqueueWithID(req.ID, roomName, req.Title, req.Command, req.Priority, req.Deps, req.Writes)
}

func (s *Supervisor) TaskCancel(id string) error { return s.tasks.Cancel(id) }
func (s *Supervisor) TaskList() []task.Snapshot  { return s.tasks.List() }

func (s *Supervisor) ConflictResolve(id, chooseWorker, providedContent string) error {
	return s.fsync.Resolve(id, chooseWorker, providedContent)
}

// -- dashboard.Source --

func (s *Supervisor) Rooms() []room.Room          { return s.rooms.List() }
func (s *Supervisor) Workers() []worker.Snapshot  { return s.workers.List() }
func (s *Supervisor) Tasks() []task.Snapshot      { return s.tasks.List() }
func (s *Supervisor) ConflictCount() int          { return len(s.fsync.Conflicts()) }
