package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/warder/internal/config"
	"github.com/zjrosen/warder/internal/ipc"
	"github.com/zjrosen/warder/internal/message"
	"github.com/zjrosen/warder/internal/room"
	"github.com/zjrosen/warder/internal/task"
	"github.com/zjrosen/warder/internal/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(0, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Defaults()
	cfg.Workers.AllowedCommands = []string{"sh"}
	cfg.Workers.StartupTimeout = 2 * time.Second
	cfg.Workers.HeartbeatInterval = 50 * time.Millisecond
	cfg.Workers.KillGracePeriod = 200 * time.Millisecond
	cfg.Workers.RestartBackoffMin = 10 * time.Millisecond
	cfg.Workers.RestartBackoffMax = 50 * time.Millisecond
	cfg.Scheduler.TickInterval = 20 * time.Millisecond
	cfg.Scheduler.AckWindow = time.Second
	cfg.FileSync.Roots = []string{t.TempDir()}
	return cfg
}

func startTestSupervisor(t *testing.T, cfg config.Config) *Supervisor {
	t.Helper()
	s, err := New(cfg, filepath.Join(t.TempDir(), "rooms.json"), newFakeClock(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		s.Stop()
		cancel()
	})
	require.NoError(t, s.Start(ctx))
	return s
}

func TestRoomCreate_IsVisibleInRoomList(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))

	r, err := s.RoomCreate("alpha", "")
	require.NoError(t, err)
	assert.Equal(t, "alpha", r.Name)
	assert.Equal(t, s.cfg.Rooms.DefaultTemplate, r.Template)

	names := make([]string, 0)
	for _, rm := range s.RoomList() {
		names = append(names, rm.Name)
	}
	assert.Contains(t, names, "alpha")
	assert.Contains(t, names, room.DefaultRoom)
}

func TestRoomDelete_RejectsDefaultRoom(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))
	err := s.RoomDelete(room.DefaultRoom)
	require.Error(t, err)
}

func TestProcessSpawn_RegistersRouteAndAttachesToRoom(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))

	err := s.ProcessSpawn(context.Background(), "w1", "sh", room.DefaultRoom, []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)

	assert.True(t, s.router.Registered("w1"))

	r, err := s.rooms.Get(room.DefaultRoom)
	require.NoError(t, err)
	assert.Contains(t, r.Workers, "w1")

	require.NoError(t, s.ProcessKill("w1"))
}

func TestProcessSpawn_RejectsDisallowedCommand(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))
	err := s.ProcessSpawn(context.Background(), "w1", "rm", room.DefaultRoom, []string{"-rf", "/"}, nil)
	require.Error(t, err)
}

func TestProcessKill_ReassignsWorkerLossAndDetachesFromRoom(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))
	require.NoError(t, s.ProcessSpawn(context.Background(), "w1", "sh", room.DefaultRoom, []string{"-c", "sleep 5"}, nil))
	require.NoError(t, s.workers.Heartbeat("w1"))

	taskID, err := s.tasks.Enqueue(room.DefaultRoom, "t1", "echo hi", message.PriorityMedium, nil, nil)
	require.NoError(t, err)
	s.tasks.Tick()

	require.Eventually(t, func() bool {
		snap, err := s.tasks.Get(taskID)
		return err == nil && snap.State == task.StateAssigned
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.ProcessKill("w1"))

	snap, err := s.tasks.Get(taskID)
	require.NoError(t, err)
	assert.Equal(t, task.StateQueued, snap.State)

	r, err := s.rooms.Get(room.DefaultRoom)
	require.NoError(t, err)
	assert.NotContains(t, r.Workers, "w1")
}

func TestTaskEnqueue_HonorsCallerSuppliedID(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))
	const fixedID = "11111111-1111-1111-1111-111111111111"

	id, err := s.TaskEnqueue(ipc.TaskEnqueueRequest{
		ID:       fixedID,
		Title:    "fixed",
		Command:  "echo hi",
		Priority: message.PriorityMedium,
		Room:     room.DefaultRoom,
	})
	require.NoError(t, err)
	assert.Equal(t, fixedID, id)

	snap, err := s.tasks.Get(fixedID)
	require.NoError(t, err)
	assert.Equal(t, fixedID, snap.ID)
}

func TestTaskEnqueue_DefaultsToDefaultRoom(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))
	id, err := s.TaskEnqueue(ipc.TaskEnqueueRequest{Title: "t", Command: "echo hi", Priority: message.PriorityLow})
	require.NoError(t, err)

	snap, err := s.tasks.Get(id)
	require.NoError(t, err)
	assert.Equal(t, room.DefaultRoom, snap.Room)
}

func TestWorkerAssignment_EndToEndViaSchedulerTick(t *testing.T) {
	cfg := testConfig(t)
	s := startTestSupervisor(t, cfg)

	require.NoError(t, s.ProcessSpawn(context.Background(), "w1", "sh", room.DefaultRoom, []string{"-c", "sleep 5"}, nil))
	require.NoError(t, s.workers.Heartbeat("w1"))

	id, err := s.tasks.Enqueue(room.DefaultRoom, "t1", "echo hi", message.PriorityHigh, nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := s.tasks.Get(id)
		return err == nil && snap.State == task.StateAssigned && snap.WorkerID == "w1"
	}, time.Second, 5*time.Millisecond)

	workerSnap, err := s.workers.Status("w1")
	require.NoError(t, err)
	assert.Equal(t, worker.StateBusy, workerSnap.State)
	assert.Equal(t, 1, workerSnap.RunningTaskCount)

	require.NoError(t, s.ProcessKill("w1"))
}

func TestConflictResolve_DelegatesToFileSyncEngine(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))
	err := s.ConflictResolve("does-not-exist", "worker-a", "")
	require.Error(t, err)
}

func TestStatus_AggregatesAcrossComponents(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))
	_, err := s.RoomCreate("extra", "")
	require.NoError(t, err)

	status := s.Status()
	assert.GreaterOrEqual(t, len(status.Rooms), 2)
	assert.NotNil(t, status.Tasks)
	assert.NotNil(t, status.Workers)
}

func TestCandidateSource_ExcludesOverCapBusyWorkers(t *testing.T) {
	s := startTestSupervisor(t, testConfig(t))
	require.NoError(t, s.ProcessSpawn(context.Background(), "w1", "sh", room.DefaultRoom, []string{"-c", "sleep 5"}, nil))
	require.NoError(t, s.workers.Heartbeat("w1"))

	src := &candidateSource{workers: s.workers, cap: 1}
	cands := src.Candidates(room.DefaultRoom)
	require.Len(t, cands, 1)

	require.NoError(t, s.workers.AssignTask("w1"))
	cands = src.Candidates(room.DefaultRoom)
	assert.Empty(t, cands, "worker at its task cap should not be a candidate")

	require.NoError(t, s.ProcessKill("w1"))
}

func TestShutdown_ClosesDoneChannel(t *testing.T) {
	s, err := New(testConfig(t), filepath.Join(t.TempDir(), "rooms.json"), newFakeClock(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	s.Shutdown()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not close Done() in time")
	}
}
