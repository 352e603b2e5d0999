package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zjrosen/warder/internal/room"
	"github.com/zjrosen/warder/internal/task"
	"github.com/zjrosen/warder/internal/worker"
)

var watchAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream a read-only view of rooms, workers, tasks, and alerts",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchAddr, "addr", "", "dashboard push socket address (defaults to the configured dashboard address)")
}

func runWatch(_ *cobra.Command, _ []string) error {
	addr := watchAddr
	if addr == "" {
		addr = cfg.Dashboard.Addr
	}
	if addr == "" {
		return fmt.Errorf("no dashboard address configured; pass --addr or set dashboard.addr")
	}

	model := newWatchModel(addr)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	if err != nil {
		return fmt.Errorf("running watch: %w", err)
	}
	return nil
}

// snapshotMsg carries one decoded push-channel frame into the Update loop.
type snapshotMsg struct {
	typ     string
	raw     json.RawMessage
	timeErr error
}

// dialErrMsg reports a connection failure; the model renders it and keeps
// retrying rather than exiting, since the daemon may not be up yet.
type dialErrMsg struct{ err error }

// connClosedMsg signals the read loop ended and a reconnect is due.
type connClosedMsg struct{}

type metricsSnapshot struct {
	RoomCount     int            `json:"room_count"`
	WorkerCount   int            `json:"worker_count"`
	TaskCounts    map[string]int `json:"task_counts"`
	ConflictCount int            `json:"conflict_count"`
}

type processesSnapshot struct {
	Rooms   []room.Room       `json:"rooms"`
	Workers []worker.Snapshot `json:"workers"`
}

type taskBoardSnapshot struct {
	Tasks map[task.State][]task.Snapshot `json:"tasks"`
}

type alertSnapshot struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type alertLine struct {
	at       time.Time
	severity string
	message  string
}

const maxAlertLines = 20

// watchModel is a single scrolling read-only view: connection status,
// coarse metrics, room/worker state, and a trailing log of alerts. It does
// not reach for the teacher's full kanban board (SPEC scope), just enough
// to observe a running daemon from a terminal.
type watchModel struct {
	addr      string
	conn      net.Conn
	connected bool
	lastErr   string
	width     int
	height    int

	scanner *bufio.Scanner

	metrics   metricsSnapshot
	processes processesSnapshot
	board     taskBoardSnapshot
	alerts    []alertLine
}

func newWatchModel(addr string) *watchModel {
	return &watchModel{addr: addr}
}

func (m *watchModel) Init() tea.Cmd {
	return m.dial()
}

func (m *watchModel) dial() tea.Cmd {
	return func() tea.Msg {
		conn, err := net.DialTimeout("tcp", m.addr, 5*time.Second)
		if err != nil {
			return dialErrMsg{err: err}
		}
		return connOpenedMsg{conn: conn}
	}
}

type connOpenedMsg struct{ conn net.Conn }

func (m *watchModel) readNext() tea.Cmd {
	conn := m.conn
	scanner := m.scanner
	return func() tea.Msg {
		if !scanner.Scan() {
			_ = conn.Close()
			return connClosedMsg{}
		}
		line := scanner.Bytes()
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			return snapshotMsg{timeErr: err}
		}
		return snapshotMsg{typ: envelope.Type, raw: append(json.RawMessage(nil), line...)}
	}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.conn != nil {
				_ = m.conn.Close()
			}
			return m, tea.Quit
		}
		return m, nil

	case dialErrMsg:
		m.connected = false
		m.lastErr = msg.err.Error()
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return retryMsg{} })

	case retryMsg:
		return m, m.dial()

	case connOpenedMsg:
		m.connected = true
		m.lastErr = ""
		m.conn = msg.conn
		m.scanner = bufio.NewScanner(msg.conn)
		m.scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		return m, m.readNext()

	case connClosedMsg:
		m.connected = false
		m.lastErr = "connection closed"
		m.conn = nil
		m.scanner = nil
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return retryMsg{} })

	case snapshotMsg:
		if msg.timeErr != nil {
			return m, m.readNext()
		}
		m.applySnapshot(msg)
		return m, m.readNext()
	}

	return m, nil
}

type retryMsg struct{}

func (m *watchModel) applySnapshot(msg snapshotMsg) {
	switch msg.typ {
	case "metrics":
		var s metricsSnapshot
		if json.Unmarshal(msg.raw, &s) == nil {
			m.metrics = s
		}
	case "processes":
		var s processesSnapshot
		if json.Unmarshal(msg.raw, &s) == nil {
			m.processes = s
		}
	case "task_board":
		var s taskBoardSnapshot
		if json.Unmarshal(msg.raw, &s) == nil {
			m.board = s
		}
	case "alert":
		var s alertSnapshot
		if json.Unmarshal(msg.raw, &s) == nil {
			m.alerts = append(m.alerts, alertLine{at: time.Now(), severity: s.Severity, message: s.Message})
			if len(m.alerts) > maxAlertLines {
				m.alerts = m.alerts[len(m.alerts)-maxAlertLines:]
			}
		}
	}
}

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true)
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	watchErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	watchOkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func (m *watchModel) View() string {
	var b strings.Builder

	status := watchOkStyle.Render("connected")
	if !m.connected {
		status = watchErrStyle.Render("disconnected")
		if m.lastErr != "" {
			status += watchMutedStyle.Render(" (" + m.lastErr + ")")
		}
	}
	fmt.Fprintf(&b, "%s  %s  %s\n\n", watchTitleStyle.Render("warder watch"), m.addr, status)

	fmt.Fprintf(&b, "rooms=%d workers=%d conflicts=%d\n", m.metrics.RoomCount, m.metrics.WorkerCount, m.metrics.ConflictCount)
	if len(m.metrics.TaskCounts) > 0 {
		b.WriteString(watchMutedStyle.Render("tasks: "))
		first := true
		for _, state := range []string{"Queued", "Assigned", "Running", "Succeeded", "Failed", "Cancelled"} {
			if n, ok := m.metrics.TaskCounts[state]; ok {
				if !first {
					b.WriteString("  ")
				}
				fmt.Fprintf(&b, "%s=%d", state, n)
				first = false
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(watchTitleStyle.Render("rooms"))
	b.WriteString("\n")
	for _, r := range m.processes.Rooms {
		marker := " "
		if r.Active {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-16s workers=%d\n", marker, r.Name, len(r.Workers))
	}
	b.WriteString("\n")

	b.WriteString(watchTitleStyle.Render("workers"))
	b.WriteString("\n")
	for _, w := range m.processes.Workers {
		fmt.Fprintf(&b, "%-16s %-10s room=%-12s running=%d done=%d fail=%d\n",
			w.ID, w.State, w.Room, w.RunningTaskCount, w.TasksCompleted, w.Failures)
	}
	b.WriteString("\n")

	b.WriteString(watchTitleStyle.Render("alerts"))
	b.WriteString("\n")
	if len(m.alerts) == 0 {
		b.WriteString(watchMutedStyle.Render("none\n"))
	}
	for _, a := range m.alerts {
		fmt.Fprintf(&b, "%s [%s] %s\n", a.at.Format("15:04:05"), a.severity, a.message)
	}

	b.WriteString(watchMutedStyle.Render("\nq to quit\n"))
	return b.String()
}
