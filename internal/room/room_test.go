package room

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStopper struct {
	killed []string
}

func (f *fakeStopper) Kill(workerID string) error {
	f.killed = append(f.killed, workerID)
	return nil
}

func TestNew_HasDefaultRoom(t *testing.T) {
	m := New(Config{}, nil)
	rooms := m.List()
	require.Len(t, rooms, 1)
	assert.Equal(t, DefaultRoom, rooms[0].Name)
	assert.Equal(t, DefaultRoom, m.Foreground())
}

func TestCreate_RejectsInvalidName(t *testing.T) {
	m := New(Config{}, nil)
	_, err := m.Create("../escape", "default")
	require.Error(t, err)
}

func TestCreate_RejectsDuplicate(t *testing.T) {
	m := New(Config{}, nil)
	_, err := m.Create("r1", "default")
	require.NoError(t, err)
	_, err = m.Create("r1", "default")
	require.Error(t, err)
}

func TestCreate_RejectsOverCap(t *testing.T) {
	m := New(Config{MaxRooms: 2}, nil)
	_, err := m.Create("r1", "default")
	require.NoError(t, err)
	_, err = m.Create("r2", "default")
	require.Error(t, err)
}

func TestDelete_RejectsDefault(t *testing.T) {
	m := New(Config{}, nil)
	err := m.Delete(DefaultRoom)
	require.Error(t, err)
}

func TestDelete_StopsWorkersAndRemovesRoom(t *testing.T) {
	stopper := &fakeStopper{}
	m := New(Config{}, stopper)
	_, err := m.Create("r1", "default")
	require.NoError(t, err)
	require.NoError(t, m.AttachWorker("r1", "w1"))
	require.NoError(t, m.AttachWorker("r1", "w2"))

	require.NoError(t, m.Delete("r1"))

	assert.ElementsMatch(t, []string{"w1", "w2"}, stopper.killed)
	rooms := m.List()
	for _, r := range rooms {
		assert.NotEqual(t, "r1", r.Name)
	}
}

func TestRoundTrip_CreateThenDeleteRestoresList(t *testing.T) {
	m := New(Config{}, nil)
	before := m.List()

	_, err := m.Create("r1", "default")
	require.NoError(t, err)
	require.NoError(t, m.Delete("r1"))

	after := m.List()
	assert.Equal(t, before, after)
}

func TestSwitch_UnknownRoomErrors(t *testing.T) {
	m := New(Config{}, nil)
	err := m.Switch("nope")
	require.Error(t, err)
}

func TestSwitch_IsAdvisoryOnly(t *testing.T) {
	m := New(Config{}, nil)
	_, err := m.Create("r1", "default")
	require.NoError(t, err)

	require.NoError(t, m.Switch("r1"))
	assert.Equal(t, "r1", m.Foreground())

	rooms := m.List()
	for _, r := range rooms {
		assert.False(t, r.Active == false && r.Name == "r1")
	}
}

func TestAttachDetachWorker(t *testing.T) {
	m := New(Config{}, nil)
	require.NoError(t, m.AttachWorker(DefaultRoom, "w1"))

	r, err := m.Get(DefaultRoom)
	require.NoError(t, err)
	assert.Contains(t, r.Workers, "w1")

	require.NoError(t, m.DetachWorker(DefaultRoom, "w1"))
	r, err = m.Get(DefaultRoom)
	require.NoError(t, err)
	assert.NotContains(t, r.Workers, "w1")
}

func TestSaveStateThenLoadState_PreservesMembership(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rooms.json")

	m := New(Config{}, nil)
	_, err := m.Create("r1", "tmpl")
	require.NoError(t, err)
	require.NoError(t, m.AttachWorker("r1", "w1"))
	require.NoError(t, m.Switch("r1"))

	require.NoError(t, m.SaveState(path))

	m2 := New(Config{}, nil)
	require.NoError(t, m2.LoadState(path))

	r, err := m2.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"w1"}, r.Workers)
	assert.Equal(t, "tmpl", r.Template)
	assert.Equal(t, "r1", m2.Foreground())
}

func TestLoadState_MissingFileIsNotError(t *testing.T) {
	m := New(Config{}, nil)
	err := m.LoadState(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Len(t, m.List(), 1)
}

func TestReactToWorkerLoss_DetachesFromOwningRoom(t *testing.T) {
	m := New(Config{}, nil)
	require.NoError(t, m.AttachWorker(DefaultRoom, "w1"))

	m.ReactToWorkerLoss("w1")

	r, err := m.Get(DefaultRoom)
	require.NoError(t, err)
	assert.NotContains(t, r.Workers, "w1")
}
