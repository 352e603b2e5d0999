// Package message defines the wire types shared by the coordination bus
// (supervisor <-> worker) and the IPC Hub's request/response socket.
package message

import "time"

// Priority orders tasks within the Task Coordinator's eligible set.
// Declared here (rather than in internal/task) because it appears in the
// wire schema for both TaskEnqueue requests and TaskAssignment messages.
type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityUrgent   Priority = "Urgent"
	PriorityCritical Priority = "Critical"
)

// Rank returns an ordering score, higher is more urgent. Used by the
// scheduler's eligible-set sort.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether p is one of the five declared priorities.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// CoordinationMessage is the wire envelope exchanged on the stream
// between the supervisor and each worker.
type CoordinationMessage struct {
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"` // absent = broadcast
	Timestamp  time.Time `json:"timestamp"`

	TaskAssignment   *TaskAssignment   `json:"task_assignment,omitempty"`
	TaskResult       *TaskResult       `json:"task_result,omitempty"`
	StatusUpdate     *StatusUpdate     `json:"status_update,omitempty"`
	FileChangeNotice *FileChangeNotice `json:"file_change_notice,omitempty"`
	GlobalCommand    *GlobalCommand    `json:"global_command,omitempty"`
	ErrorReport      *ErrorReport      `json:"error_report,omitempty"`
}

// Kind returns the name of whichever payload variant is populated, or
// "" if none is.
func (m CoordinationMessage) Kind() string {
	switch {
	case m.TaskAssignment != nil:
		return "TaskAssignment"
	case m.TaskResult != nil:
		return "TaskResult"
	case m.StatusUpdate != nil:
		return "StatusUpdate"
	case m.FileChangeNotice != nil:
		return "FileChangeNotice"
	case m.GlobalCommand != nil:
		return "GlobalCommand"
	case m.ErrorReport != nil:
		return "ErrorReport"
	default:
		return ""
	}
}

// TaskAssignment tells a worker to begin a task.
type TaskAssignment struct {
	TaskID   string   `json:"task_id"`
	Title    string   `json:"title"`
	Command  string   `json:"command"`
	Priority Priority `json:"priority"`
	Writes   []string `json:"writes"`
}

// TaskResult reports the outcome of a previously assigned task.
type TaskResult struct {
	TaskID  string `json:"task_id"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// StatusUpdate reports a worker-originated status change, including
// Ack/Nack of a TaskAssignment.
type StatusUpdate struct {
	WorkerID string `json:"worker_id"`
	State    string `json:"state"`
	TaskID   string `json:"task_id,omitempty"`
	Ack      *bool  `json:"ack,omitempty"`
}

// FileChangeNotice reports a file edit made by a worker, or synthesized
// by the File Sync Engine for an externally observed filesystem event.
type FileChangeNotice struct {
	Path       string `json:"path"`
	WorkerID   string `json:"worker_id"`
	BeforeHash string `json:"before_hash"`
	AfterHash  string `json:"after_hash"`
	Content    []byte `json:"content,omitempty"`
}

// GlobalCommand carries a supervisor-to-worker directive outside the
// task lifecycle (shutdown, cancel, ping).
type GlobalCommand struct {
	Command string `json:"command"`
	TaskID  string `json:"task_id,omitempty"`
}

// ErrorReport surfaces a subsystem error onto the coordination bus.
type ErrorReport struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}
