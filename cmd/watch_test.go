package cmd

import (
	"encoding/json"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/require"
)

func TestWatchModel_AppliesMetricsSnapshot(t *testing.T) {
	m := newWatchModel("127.0.0.1:1")

	raw, err := json.Marshal(metricsSnapshot{RoomCount: 2, WorkerCount: 3, TaskCounts: map[string]int{"Running": 1}, ConflictCount: 1})
	require.NoError(t, err)

	m.applySnapshot(snapshotMsg{typ: "metrics", raw: raw})

	require.Equal(t, 2, m.metrics.RoomCount)
	require.Equal(t, 3, m.metrics.WorkerCount)
	require.Equal(t, 1, m.metrics.ConflictCount)
	require.Contains(t, m.View(), "rooms=2 workers=3 conflicts=1")
}

func TestWatchModel_AppliesAlertSnapshot_CapsHistory(t *testing.T) {
	m := newWatchModel("127.0.0.1:1")

	for i := 0; i < maxAlertLines+5; i++ {
		raw, err := json.Marshal(alertSnapshot{Severity: "warn", Message: "tick"})
		require.NoError(t, err)
		m.applySnapshot(snapshotMsg{typ: "alert", raw: raw})
	}

	require.Len(t, m.alerts, maxAlertLines)
}

func TestWatchModel_IgnoresUnparseableSnapshot(t *testing.T) {
	m := newWatchModel("127.0.0.1:1")
	m.metrics = metricsSnapshot{RoomCount: 5}

	m.applySnapshot(snapshotMsg{typ: "metrics", raw: json.RawMessage(`{"room_count":`)})

	require.Equal(t, 5, m.metrics.RoomCount, "a malformed snapshot should leave prior state untouched")
}

func TestWatchModel_ViewShowsDisconnectedUntilDialSucceeds(t *testing.T) {
	m := newWatchModel("127.0.0.1:1")
	view := m.View()
	require.Contains(t, view, "disconnected")
}

func TestWatchModel_QuitOnQ(t *testing.T) {
	m := newWatchModel("127.0.0.1:1")
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	tm.WaitFinished(t, teatest.WithFinalTimeout(3*time.Second))
}

func TestWatchModel_RendersAppliedState(t *testing.T) {
	m := newWatchModel("127.0.0.1:1")
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(100, 30))

	tm.Send(tea.WindowSizeMsg{Width: 100, Height: 30})

	raw, err := json.Marshal(metricsSnapshot{RoomCount: 1, WorkerCount: 1})
	require.NoError(t, err)
	tm.Send(snapshotMsg{typ: "metrics", raw: raw})

	tm.Send(tea.KeyMsg{Type: tea.KeyEsc})
	tm.WaitFinished(t, teatest.WithFinalTimeout(3*time.Second))

	final, ok := tm.FinalModel(t).(*watchModel)
	require.True(t, ok)
	require.Equal(t, 1, final.metrics.RoomCount)
}
