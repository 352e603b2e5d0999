// Package task implements the Task Coordinator: a priority+dependency
// scheduler with least-loaded placement, write-set conflict avoidance, and
// reassignment on worker failure.
package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/warder/internal/ids"
	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/message"
	"github.com/zjrosen/warder/internal/werrors"
)

// State is a task's position in the lifecycle of spec.md §4.3.
type State string

const (
	StateQueued    State = "Queued"
	StateAssigned  State = "Assigned"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateCancelled State = "Cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateCancelled || s == StateFailed
}

// Task is one unit of work tracked by the coordinator.
type Task struct {
	ID         string
	Room       string
	Title      string
	Command    string
	Priority   message.Priority
	State      State
	Deps       []string
	Writes     []string
	WorkerID   string
	EnqueuedAt time.Time
	StartedAt  time.Time
	EndedAt    time.Time
	Attempts   int
	Reason     string
	CooldownAt time.Time
}

// Snapshot is an immutable, point-in-time copy of a Task safe to hand to
// callers outside the coordinator's lock.
type Snapshot = Task

// WorkerCandidate is a scheduling candidate: enough of a worker's state for
// the coordinator to rank it without depending on the Process Supervisor's
// types.
type WorkerCandidate struct {
	ID               string
	Room             string
	RunningTaskCount int
	Cap              int
	RecentFailures   int
	RecentCompletes  int
}

// WorkerSource supplies the current candidate set. The Process Supervisor
// satisfies this by reporting Idle workers and under-cap Busy workers.
type WorkerSource interface {
	Candidates(room string) []WorkerCandidate
}

// Dispatcher delivers a CoordinationMessage to one worker. The Message
// Router satisfies this.
type Dispatcher interface {
	SendTo(workerID string, msg message.CoordinationMessage) error
}

// Config controls the coordinator's scheduling policy.
type Config struct {
	LoadScoreAlpha float64
	AckWindow      time.Duration
	MaxAttempts    int
	CooldownBase   time.Duration
}

// Coordinator owns the task table and drives the scheduling tick.
type Coordinator struct {
	cfg Config

	clock     ids.Clock
	dispatch  Dispatcher
	workers   WorkerSource
	selfID    string

	mu       sync.Mutex
	tasks    map[string]*Task
	order    []string          // enqueue order, stable across the table's lifetime
	writeSet map[string]string // path -> task ID holding it (Assigned/Running)

	// acks tracks outstanding Assigned tasks awaiting Ack/Nack. Entries
	// expire on their own after AckWindow; the eviction callback forces a
	// Nack so an unresponsive worker doesn't wedge the task forever.
	acks *cache.Cache

	// cancelAcks tracks Assigned/Running tasks awaiting a worker's reply
	// to a cancel message. Expiry forces the task to Cancelled.
	cancelAcks *cache.Cache
}

// New creates a Coordinator.
func New(cfg Config, clock ids.Clock, dispatch Dispatcher, workers WorkerSource, selfID string) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.LoadScoreAlpha == 0 {
		cfg.LoadScoreAlpha = 2
	}
	if cfg.AckWindow <= 0 {
		cfg.AckWindow = 5 * time.Second
	}
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = 2 * time.Second
	}
	if clock == nil {
		clock = ids.SystemClock{}
	}
	c := &Coordinator{
		cfg:        cfg,
		clock:      clock,
		dispatch:   dispatch,
		workers:    workers,
		selfID:     selfID,
		tasks:      make(map[string]*Task),
		writeSet:   make(map[string]string),
		acks:       cache.New(cfg.AckWindow, cfg.AckWindow/2),
		cancelAcks: cache.New(cfg.AckWindow, cfg.AckWindow/2),
	}
	c.acks.OnEvicted(func(taskID string, _ interface{}) {
		c.mu.Lock()
		defer c.mu.Unlock()
		t, ok := c.tasks[taskID]
		if !ok || t.State != StateAssigned {
			return
		}
		c.releaseWriteSetLocked(t)
		t.State = StateQueued
		t.WorkerID = ""
		t.Reason = "ack window expired"
		log.Warn(log.CatTask, "task nacked, returned to queue", "task_id", taskID, "reason", t.Reason)
	})
	c.cancelAcks.OnEvicted(func(taskID string, _ interface{}) {
		c.mu.Lock()
		t, ok := c.tasks[taskID]
		if !ok || (t.State != StateAssigned && t.State != StateRunning) {
			c.mu.Unlock()
			return
		}
		c.releaseWriteSetLocked(t)
		t.State = StateCancelled
		c.mu.Unlock()
		log.Info(log.CatTask, "task force-cancelled", "task_id", taskID)
	})
	return c
}

// Enqueue validates dependencies and adds task to the table in Queued
// under a coordinator-generated ID.
func (c *Coordinator) Enqueue(room, title, command string, priority message.Priority, deps, writes []string) (string, error) {
	return c.EnqueueWithID("", room, title, command, priority, deps, writes)
}

// EnqueueWithID is Enqueue with a caller-supplied ID, used by the IPC Hub
// so a client's TaskEnqueue request and its later references to the same
// task (as a dependency, or for Cancel) agree on the ID. An empty id
// generates one, same as Enqueue. A non-empty id must be unused.
func (c *Coordinator) EnqueueWithID(id, room, title, command string, priority message.Priority, deps, writes []string) (string, error) {
	if !priority.Valid() {
		return "", werrors.New(werrors.KindValidation, werrors.CodeTaskRejected, fmt.Sprintf("invalid priority %q", priority))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if id != "" {
		if _, exists := c.tasks[id]; exists {
			return "", werrors.New(werrors.KindConflict, werrors.CodeTaskRejected, fmt.Sprintf("task %q already exists", id))
		}
	} else {
		id = ids.NewTaskID()
	}

	for _, dep := range deps {
		dt, ok := c.tasks[dep]
		if !ok {
			return "", werrors.New(werrors.KindValidation, werrors.CodeTaskRejected, fmt.Sprintf("dependency %q does not exist", dep))
		}
		if dt.State != StateSucceeded && dt.State != StateQueued && dt.State != StateAssigned && dt.State != StateRunning {
			return "", werrors.New(werrors.KindPolicyRejected, werrors.CodeTaskRejected, fmt.Sprintf("dependency %q is terminally %s", dep, dt.State))
		}
	}

	t := &Task{
		ID:         id,
		Room:       room,
		Title:      title,
		Command:    command,
		Priority:   priority,
		State:      StateQueued,
		Deps:       append([]string(nil), deps...),
		Writes:     append([]string(nil), writes...),
		EnqueuedAt: c.clock.Now(),
	}
	c.tasks[id] = t
	c.order = append(c.order, id)

	log.Info(log.CatTask, "task enqueued", "task_id", id, "room", room, "priority", string(priority))
	return id, nil
}

// Tick runs one scheduling pass: builds the eligible set, ranks candidate
// workers, and dispatches assignments. Callers must serialize calls to
// Tick (the coordinator does not run ticks concurrently).
func (c *Coordinator) Tick() {
	c.mu.Lock()
	eligible := c.eligibleLocked()
	c.mu.Unlock()

	for _, t := range eligible {
		c.assignOne(t)
	}
}

// eligibleLocked returns Queued tasks whose dependencies are all Succeeded,
// whose write-set doesn't collide with an in-flight task, and whose
// cool-down (if any) has elapsed, sorted by (priority desc, enqueue asc).
func (c *Coordinator) eligibleLocked() []*Task {
	now := c.clock.Now()
	var out []*Task
	for _, id := range c.order {
		t := c.tasks[id]
		if t.State != StateQueued {
			continue
		}
		if !t.CooldownAt.IsZero() && now.Before(t.CooldownAt) {
			continue
		}
		if !c.depsSatisfiedLocked(t) {
			continue
		}
		if c.writeSetBlockedLocked(t) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out
}

func (c *Coordinator) depsSatisfiedLocked(t *Task) bool {
	for _, dep := range t.Deps {
		d, ok := c.tasks[dep]
		if !ok || d.State != StateSucceeded {
			return false
		}
	}
	return true
}

func (c *Coordinator) writeSetBlockedLocked(t *Task) bool {
	for _, path := range t.Writes {
		if holder, ok := c.writeSet[path]; ok && holder != t.ID {
			return true
		}
	}
	return false
}

// assignOne picks the lowest load_score candidate worker in t's room and
// dispatches a TaskAssignment, or leaves t Queued if no candidate exists.
func (c *Coordinator) assignOne(t *Task) {
	candidates := c.workers.Candidates(t.Room)
	if len(candidates) == 0 {
		return
	}

	c.mu.Lock()
	if t.State != StateQueued || c.writeSetBlockedLocked(t) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	best, ok := pickCandidate(candidates, c.cfg.LoadScoreAlpha)
	if !ok {
		return
	}

	msg := message.CoordinationMessage{
		SenderID:   c.selfID,
		ReceiverID: best.ID,
		Timestamp:  c.clock.Now(),
		TaskAssignment: &message.TaskAssignment{
			TaskID:   t.ID,
			Title:    t.Title,
			Command:  t.Command,
			Priority: t.Priority,
			Writes:   t.Writes,
		},
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t.State != StateQueued {
		return
	}
	if err := c.dispatch.SendTo(best.ID, msg); err != nil {
		log.Warn(log.CatTask, "dispatch failed, leaving task queued", "task_id", t.ID, "worker_id", best.ID, "error", err.Error())
		return
	}

	t.State = StateAssigned
	t.WorkerID = best.ID
	t.Attempts++
	for _, path := range t.Writes {
		c.writeSet[path] = t.ID
	}
	c.acks.Set(t.ID, struct{}{}, cache.DefaultExpiration)

	log.Info(log.CatTask, "task assigned", "task_id", t.ID, "worker_id", best.ID, "attempt", t.Attempts)
}

// pickCandidate returns the candidate with the lowest load_score, breaking
// ties on the lexicographically lowest worker ID.
func pickCandidate(candidates []WorkerCandidate, alpha float64) (WorkerCandidate, bool) {
	if len(candidates) == 0 {
		return WorkerCandidate{}, false
	}
	best := candidates[0]
	bestScore := loadScore(best, alpha)
	for _, cand := range candidates[1:] {
		score := loadScore(cand, alpha)
		if score < bestScore || (score == bestScore && cand.ID < best.ID) {
			best = cand
			bestScore = score
		}
	}
	return best, true
}

func loadScore(w WorkerCandidate, alpha float64) float64 {
	total := w.RecentFailures + w.RecentCompletes
	rate := 0.0
	if total > 0 {
		rate = float64(w.RecentFailures) / float64(total)
	}
	return float64(w.RunningTaskCount) + alpha*rate
}

// Ack records a worker's acknowledgement of an assignment, transitioning
// Assigned -> Running.
func (c *Coordinator) Ack(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return werrors.NotFound("task", taskID)
	}
	if t.State != StateAssigned {
		return werrors.New(werrors.KindConflict, werrors.CodeTaskRejected, fmt.Sprintf("task %q is not Assigned", taskID))
	}
	t.State = StateRunning
	t.StartedAt = c.clock.Now()
	c.acks.Delete(taskID)
	log.Info(log.CatTask, "task acked", "task_id", taskID, "worker_id", t.WorkerID)
	return nil
}

// Nack returns an Assigned task to Queued, incrementing its attempt
// back-off state. Used both for explicit Nack replies and for ack-window
// expiry.
func (c *Coordinator) Nack(taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nackLocked(taskID, "nacked by worker")
}

func (c *Coordinator) nackLocked(taskID, reason string) error {
	t, ok := c.tasks[taskID]
	if !ok {
		return werrors.NotFound("task", taskID)
	}
	c.releaseWriteSetLocked(t)
	c.acks.Delete(taskID)
	t.State = StateQueued
	t.WorkerID = ""
	t.Reason = reason
	log.Warn(log.CatTask, "task nacked, returned to queue", "task_id", taskID, "reason", reason)
	return nil
}

func (c *Coordinator) releaseWriteSetLocked(t *Task) {
	for _, path := range t.Writes {
		if c.writeSet[path] == t.ID {
			delete(c.writeSet, path)
		}
	}
}

// Complete records a TaskResult: success moves the task to Succeeded;
// failure retries up to MaxAttempts with a cool-down, else Failed.
func (c *Coordinator) Complete(taskID string, success bool, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[taskID]
	if !ok {
		return werrors.NotFound("task", taskID)
	}

	c.releaseWriteSetLocked(t)
	c.acks.Delete(taskID)
	c.cancelAcks.Delete(taskID)
	t.EndedAt = c.clock.Now()
	t.Reason = reason

	if success {
		t.State = StateSucceeded
		log.Info(log.CatTask, "task succeeded", "task_id", taskID, "worker_id", t.WorkerID)
		return nil
	}

	if t.Attempts < c.cfg.MaxAttempts {
		t.State = StateQueued
		t.WorkerID = ""
		backoff := time.Duration(t.Attempts*t.Attempts) * c.cfg.CooldownBase
		t.CooldownAt = c.clock.Now().Add(backoff)
		log.Warn(log.CatTask, "task failed, retrying after cooldown", "task_id", taskID, "attempt", t.Attempts, "cooldown", backoff.String())
		return nil
	}

	t.State = StateFailed
	log.Warn(log.CatTask, "task failed permanently", "task_id", taskID, "attempts", t.Attempts)
	return nil
}

// ReassignWorkerLoss returns every task assigned to workerID to Queued,
// incrementing nothing further than the release already implies (the
// attempt counter was incremented at assignment time).
func (c *Coordinator) ReassignWorkerLoss(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		t := c.tasks[id]
		if t.WorkerID != workerID {
			continue
		}
		if t.State != StateAssigned && t.State != StateRunning {
			continue
		}
		c.releaseWriteSetLocked(t)
		c.acks.Delete(id)
		c.cancelAcks.Delete(id)
		t.State = StateQueued
		t.WorkerID = ""
		t.Reason = "worker lost"
		log.Warn(log.CatTask, "task reassigned after worker loss", "task_id", id, "worker_id", workerID)
	}
}

// Cancel cancels a task. Queued tasks are cancelled directly. Assigned or
// Running tasks get a cancel message sent to their worker and are force-
// cancelled by the caller via ForceCancelIfExpired once the ack window
// passes without a reply.
func (c *Coordinator) Cancel(taskID string) error {
	c.mu.Lock()
	t, ok := c.tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return werrors.NotFound("task", taskID)
	}

	switch t.State {
	case StateQueued:
		c.releaseWriteSetLocked(t)
		t.State = StateCancelled
		c.mu.Unlock()
		log.Info(log.CatTask, "task cancelled", "task_id", taskID)
		return nil
	case StateAssigned, StateRunning:
		workerID := t.WorkerID
		c.cancelAcks.Set(taskID, struct{}{}, cache.DefaultExpiration)
		c.mu.Unlock()
		msg := message.CoordinationMessage{
			SenderID:   c.selfID,
			ReceiverID: workerID,
			Timestamp:  c.clock.Now(),
			GlobalCommand: &message.GlobalCommand{
				Command: "cancel",
				TaskID:  taskID,
			},
		}
		if err := c.dispatch.SendTo(workerID, msg); err != nil {
			c.ForceCancel(taskID)
		}
		return nil
	default:
		c.mu.Unlock()
		return werrors.New(werrors.KindConflict, werrors.CodeTaskRejected, fmt.Sprintf("task %q is already %s", taskID, t.State))
	}
}

// ForceCancel transitions a task straight to Cancelled, releasing its
// write-set. Used once a cancel's ack window expires without a reply.
func (c *Coordinator) ForceCancel(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return
	}
	c.releaseWriteSetLocked(t)
	c.acks.Delete(taskID)
	c.cancelAcks.Delete(taskID)
	t.State = StateCancelled
	log.Info(log.CatTask, "task force-cancelled", "task_id", taskID)
}

// Get returns a copy of one task.
func (c *Coordinator) Get(taskID string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return Task{}, werrors.NotFound("task", taskID)
	}
	return *t, nil
}

// List returns every task, in enqueue order.
func (c *Coordinator) List() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.tasks[id])
	}
	return out
}

// ListByState returns every task currently in state.
func (c *Coordinator) ListByState(state State) []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Snapshot
	for _, id := range c.order {
		t := c.tasks[id]
		if t.State == state {
			out = append(out, *t)
		}
	}
	return out
}
