package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		AllowedCommands:      []string{"sh"},
		StartupTimeout:       2 * time.Second,
		HeartbeatInterval:    50 * time.Millisecond,
		MissedHeartbeatLimit: 2,
		KillGracePeriod:      200 * time.Millisecond,
		RestartPolicy:        "on-failure",
		MaxRestarts:          3,
		RestartBackoffMin:    10 * time.Millisecond,
		RestartBackoffMax:    50 * time.Millisecond,
	}
}

func TestSpawn_RejectsDisallowedCommand(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "rm", nil, nil)
	require.Error(t, err)
}

func TestSpawn_RejectsDuplicateWorkerID(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w1")

	_, err = s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.Error(t, err)
}

func TestSpawn_StartsInStartingState(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w1")

	snap, err := s.Status("w1")
	require.NoError(t, err)
	assert.Equal(t, StateStarting, snap.State)
}

func TestHeartbeat_TransitionsStartingToIdle(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w1")

	require.NoError(t, s.Heartbeat("w1"))

	snap, err := s.Status("w1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, snap.State)
}

func TestAssignAndCompleteTask_TogglesBusyIdle(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w1")
	require.NoError(t, s.Heartbeat("w1"))

	require.NoError(t, s.AssignTask("w1"))
	snap, _ := s.Status("w1")
	assert.Equal(t, StateBusy, snap.State)
	assert.Equal(t, 1, snap.RunningTaskCount)

	require.NoError(t, s.CompleteTask("w1", true))
	snap, _ = s.Status("w1")
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, 0, snap.RunningTaskCount)
	assert.Equal(t, 1, snap.TasksCompleted)
}

func TestKill_TransitionsToStopped(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Kill("w1"))

	snap, err := s.Status("w1")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, snap.State)
	assert.True(t, snap.State.IsTerminal())
}

func TestStatus_UnknownWorker(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Status("nope")
	require.Error(t, err)
}

func TestList_ReturnsAllWorkers(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w1")
	_, err = s.Spawn(context.Background(), "w2", "r2", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w2")

	all := s.List()
	assert.Len(t, all, 2)
}

func TestListByRoom_Filters(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w1")
	_, err = s.Spawn(context.Background(), "w2", "r2", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w2")

	r1 := s.ListByRoom("r1")
	require.Len(t, r1, 1)
	assert.Equal(t, "w1", r1[0].ID)
}

func TestStartupTimeout_TransitionsToFailed(t *testing.T) {
	cfg := testConfig()
	cfg.StartupTimeout = 30 * time.Millisecond
	s := New(cfg, 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w1")

	time.Sleep(100 * time.Millisecond)
	snap, err := s.Status("w1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, snap.State)
}

func TestRestart_IncrementsRestartAttempts(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)

	_, err = s.Restart(context.Background(), "w1")
	require.NoError(t, err)
	defer s.Kill("w1")

	snap, err := s.Status("w1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RestartAttempts)
}

func TestChanges_EmitsStateTransitions(t *testing.T) {
	s := New(testConfig(), 8)
	_, err := s.Spawn(context.Background(), "w1", "r1", "sh", []string{"-c", "sleep 5"}, nil)
	require.NoError(t, err)
	defer s.Kill("w1")

	require.NoError(t, s.Heartbeat("w1"))

	select {
	case change := <-s.Changes():
		assert.Equal(t, "w1", change.WorkerID)
		assert.Equal(t, StateStarting, change.From)
		assert.Equal(t, StateIdle, change.To)
	case <-time.After(time.Second):
		t.Fatal("expected a state change")
	}
}
