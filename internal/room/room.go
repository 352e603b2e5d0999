// Package room implements the Room Manager: the table of rooms, each
// owning a worker roster and an opaque stored layout, plus persistence
// of that table across restarts.
package room

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/zjrosen/warder/internal/log"
	"github.com/zjrosen/warder/internal/werrors"
)

// DefaultRoom is the reserved room name that always exists and cannot be
// deleted.
const DefaultRoom = "default"

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidName reports whether name satisfies the filesystem-safe naming
// rule: no "..", no "/", <= 64 chars.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// Room is one named workspace: a template, a worker roster, and an
// opaque layout descriptor persisted verbatim.
type Room struct {
	Name      string          `json:"name"`
	Template  string          `json:"template"`
	CreatedAt time.Time       `json:"created_at"`
	Active    bool            `json:"active"`
	Workers   []string        `json:"workers"`
	Layout    json.RawMessage `json:"layout,omitempty"`
}

// WorkerStopper is the subset of the Process Supervisor the Room Manager
// needs to stop every worker in a deleted room.
type WorkerStopper interface {
	Kill(workerID string) error
}

// Manager owns the room table.
type Manager struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	order      []string
	foreground string
	maxRooms   int

	stopper WorkerStopper
}

// Config controls the Room Manager's caps.
type Config struct {
	MaxRooms int
}

// New creates a Manager with the reserved "default" room already present.
func New(cfg Config, stopper WorkerStopper) *Manager {
	maxRooms := cfg.MaxRooms
	if maxRooms <= 0 {
		maxRooms = 8
	}
	m := &Manager{
		rooms:    make(map[string]*Room),
		maxRooms: maxRooms,
		stopper:  stopper,
	}
	m.rooms[DefaultRoom] = &Room{Name: DefaultRoom, Template: DefaultRoom, CreatedAt: time.Now(), Active: true}
	m.order = []string{DefaultRoom}
	m.foreground = DefaultRoom
	return m
}

// Create adds a new room. Fails if the name is invalid, already exists,
// or the room cap would be exceeded.
func (m *Manager) Create(name, template string) (*Room, error) {
	if !ValidName(name) {
		return nil, werrors.New(werrors.KindValidation, werrors.CodeRoomCreateFailed, fmt.Sprintf("invalid room name %q", name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[name]; exists {
		return nil, werrors.New(werrors.KindConflict, werrors.CodeRoomCreateFailed, fmt.Sprintf("room %q already exists", name))
	}
	if len(m.rooms) >= m.maxRooms {
		return nil, werrors.New(werrors.KindResourceExhausted, werrors.CodeRoomCreateFailed, "room cap reached")
	}

	r := &Room{Name: name, Template: template, CreatedAt: time.Now(), Active: true}
	m.rooms[name] = r
	m.order = append(m.order, name)

	log.Info(log.CatRoom, "room created", "name", name, "template", template)
	return r, nil
}

// Switch marks name as the foreground room. Purely advisory: no other
// subsystem consults this beyond GetStatus/dashboard reporting.
func (m *Manager) Switch(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[name]; !ok {
		return werrors.NotFound("room", name)
	}
	m.foreground = name
	return nil
}

// Foreground returns the currently advisory-foreground room name.
func (m *Manager) Foreground() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.foreground
}

// Delete removes a room, stopping every worker in it first. default
// cannot be deleted. If any worker refuses to stop within its own grace
// window the delete still proceeds (best-effort, logged).
func (m *Manager) Delete(name string) error {
	if name == DefaultRoom {
		return werrors.New(werrors.KindPolicyRejected, werrors.CodeRoomCreateFailed, "the default room cannot be deleted")
	}

	m.mu.Lock()
	r, ok := m.rooms[name]
	if !ok {
		m.mu.Unlock()
		return werrors.NotFound("room", name)
	}
	workers := append([]string(nil), r.Workers...)
	m.mu.Unlock()

	for _, wid := range workers {
		if m.stopper == nil {
			continue
		}
		if err := m.stopper.Kill(wid); err != nil {
			log.Warn(log.CatRoom, "best-effort stop failed during room delete", "room", name, "worker_id", wid, "error", err.Error())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.foreground == name {
		m.foreground = DefaultRoom
	}

	log.Info(log.CatRoom, "room deleted", "name", name)
	return nil
}

// List returns rooms in creation order.
func (m *Manager) List() []Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Room, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, *m.rooms[n])
	}
	return out
}

// AttachWorker adds workerID to room's roster.
func (m *Manager) AttachWorker(roomName, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok {
		return werrors.NotFound("room", roomName)
	}
	for _, w := range r.Workers {
		if w == workerID {
			return nil
		}
	}
	r.Workers = append(r.Workers, workerID)
	return nil
}

// DetachWorker removes workerID from room's roster.
func (m *Manager) DetachWorker(roomName, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok {
		return werrors.NotFound("room", roomName)
	}
	for i, w := range r.Workers {
		if w == workerID {
			r.Workers = append(r.Workers[:i], r.Workers[i+1:]...)
			return nil
		}
	}
	return nil
}

// SetLayout stores an opaque layout descriptor for a room, persisted
// verbatim on the next SaveState.
func (m *Manager) SetLayout(roomName string, layout json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomName]
	if !ok {
		return werrors.NotFound("room", roomName)
	}
	r.Layout = layout
	return nil
}

// Get returns a copy of one room.
func (m *Manager) Get(name string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	if !ok {
		return Room{}, werrors.NotFound("room", name)
	}
	return *r, nil
}

// ReactToWorkerLoss detaches a worker from whatever room holds it, used
// when the Process Supervisor reports the worker Failed or Stopped
// permanently (e.g. after room deletion, or explicit kill outside a
// delete). Safe to call even if the worker is already detached.
func (m *Manager) ReactToWorkerLoss(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		for i, w := range r.Workers {
			if w == workerID {
				r.Workers = append(r.Workers[:i], r.Workers[i+1:]...)
				return
			}
		}
	}
}
