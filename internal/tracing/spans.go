package tracing

// Span attribute keys used across warder's components.
const (
	// Request attributes (IPC Hub)
	AttrRequestID   = "request.id"
	AttrRequestVerb = "request.verb"

	// Process attributes
	AttrWorkerID    = "worker.id"
	AttrWorkerRoom  = "worker.room"
	AttrWorkerState = "worker.state"

	// Room attributes
	AttrRoomID = "room.id"

	// Task attributes
	AttrTaskID       = "task.id"
	AttrTaskPriority = "task.priority"
	AttrTaskState    = "task.state"

	// File sync attributes
	AttrFilePath   = "file.path"
	AttrConflictID = "conflict.id"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span name prefixes for consistent naming across components.
const (
	SpanPrefixRequest  = "ipc.request."
	SpanPrefixTaskTick = "task.tick."
	SpanPrefixMerge    = "filesync.merge."
	SpanPrefixWorker   = "worker."
)

// Event names for span events.
const (
	EventTaskAssigned    = "task.assigned"
	EventTaskAcked       = "task.acked"
	EventTaskReassigned  = "task.reassigned"
	EventConflictOpened  = "conflict.opened"
	EventConflictResolved = "conflict.resolved"
	EventWorkerRestarted = "worker.restarted"
)
