package ipc

import (
	"fmt"

	"github.com/zjrosen/warder/internal/filesync"
	"github.com/zjrosen/warder/internal/message"
	"github.com/zjrosen/warder/internal/room"
	"github.com/zjrosen/warder/internal/task"
	"github.com/zjrosen/warder/internal/worker"
)

// Request is the tagged-union wire envelope for one control-socket
// message. Exactly one field is populated; Kind reports which.
type Request struct {
	Ping      *struct{}           `json:"Ping,omitempty"`
	GetStatus *struct{}           `json:"GetStatus,omitempty"`

	RoomCreate *RoomCreateRequest `json:"RoomCreate,omitempty"`
	RoomSwitch *RoomSwitchRequest `json:"RoomSwitch,omitempty"`
	RoomDelete *RoomDeleteRequest `json:"RoomDelete,omitempty"`
	RoomList   *struct{}          `json:"RoomList,omitempty"`

	ProcessSpawn   *ProcessSpawnRequest   `json:"ProcessSpawn,omitempty"`
	ProcessKill    *ProcessKillRequest    `json:"ProcessKill,omitempty"`
	ProcessRestart *ProcessRestartRequest `json:"ProcessRestart,omitempty"`
	ProcessList    *struct{}              `json:"ProcessList,omitempty"`

	TaskEnqueue *TaskEnqueueRequest `json:"TaskEnqueue,omitempty"`
	TaskCancel  *TaskCancelRequest  `json:"TaskCancel,omitempty"`
	TaskList    *struct{}           `json:"TaskList,omitempty"`

	ConflictResolve *ConflictResolveRequest `json:"ConflictResolve,omitempty"`
	Shutdown        *struct{}               `json:"Shutdown,omitempty"`
}

// Kind names whichever variant of Request is populated, or "" if none.
func (r Request) Kind() string {
	switch {
	case r.Ping != nil:
		return "Ping"
	case r.GetStatus != nil:
		return "GetStatus"
	case r.RoomCreate != nil:
		return "RoomCreate"
	case r.RoomSwitch != nil:
		return "RoomSwitch"
	case r.RoomDelete != nil:
		return "RoomDelete"
	case r.RoomList != nil:
		return "RoomList"
	case r.ProcessSpawn != nil:
		return "ProcessSpawn"
	case r.ProcessKill != nil:
		return "ProcessKill"
	case r.ProcessRestart != nil:
		return "ProcessRestart"
	case r.ProcessList != nil:
		return "ProcessList"
	case r.TaskEnqueue != nil:
		return "TaskEnqueue"
	case r.TaskCancel != nil:
		return "TaskCancel"
	case r.TaskList != nil:
		return "TaskList"
	case r.ConflictResolve != nil:
		return "ConflictResolve"
	case r.Shutdown != nil:
		return "Shutdown"
	default:
		return ""
	}
}

type RoomCreateRequest struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

type RoomSwitchRequest struct {
	Name string `json:"name"`
}

type RoomDeleteRequest struct {
	Name string `json:"name"`
}

type ProcessSpawnRequest struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Room    string            `json:"room"`
	Env     map[string]string `json:"env"`
}

type ProcessKillRequest struct {
	ID string `json:"id"`
}

type ProcessRestartRequest struct {
	ID string `json:"id"`
}

type TaskEnqueueRequest struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Command  string           `json:"command"`
	Priority message.Priority `json:"priority"`
	Deps     []string         `json:"deps"`
	Writes   []string         `json:"writes"`
	Room     string           `json:"room"`
}

type TaskCancelRequest struct {
	ID string `json:"id"`
}

type ConflictResolveRequest struct {
	ID             string `json:"id"`
	ChooseWorker   string `json:"choose_worker,omitempty"`
	ProvidedContent string `json:"provided_content,omitempty"`
}

// Response is either {"Ok": payload} or {"Err": {...}}.
type Response struct {
	Ok  any         `json:"Ok,omitempty"`
	Err *ErrPayload `json:"Err,omitempty"`
}

type ErrPayload struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// err reconstructs a non-nil error from a failed response's ErrPayload,
// for span recording; it returns nil for an Ok response.
func (r Response) err() error {
	if r.Err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s", r.Err.Kind, r.Err.Message)
}

// StatusReport is the GetStatus payload: a full snapshot of every
// subsystem's state, enough for a dashboard or CLI poke to render
// without a second round trip.
type StatusReport struct {
	Rooms     []room.Room        `json:"rooms"`
	Workers   []worker.Snapshot  `json:"workers"`
	Tasks     []task.Snapshot    `json:"tasks"`
	Conflicts []filesync.Conflict `json:"conflicts"`
}
