// Package event defines the typed events that flow between Beacon's
// components and the synchronous bus that carries them. Event type strings
// double as wire names: the hub serializes every event as
// {type: EventType(), data: Payload()} when delivering to clients.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns the wire identifier for this event type
	// (e.g. "instanceCreated", "processOutput").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// Payload returns the value serialized into the wire envelope's
	// data field.
	Payload() any
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy part of the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Instance Lifecycle Events
// -----------------------------------------------------------------------------

// InstanceStatus represents the lifecycle state of a managed process.
type InstanceStatus string

const (
	StatusRunning   InstanceStatus = "running"
	StatusCompleted InstanceStatus = "completed"
	StatusFailed    InstanceStatus = "failed"
)

// InstanceInfo is a snapshot of a managed instance, safe to hand to
// subscribers after the orchestrator has moved on. Mirrors the
// orchestrator's Instance for decoupling.
type InstanceInfo struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	PID       int            `json:"pid,omitempty"`
	Status    InstanceStatus `json:"status"`
	ExitCode  *int           `json:"exitCode,omitempty"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
}

// InstanceCreatedEvent is emitted when the orchestrator spawns a new process.
type InstanceCreatedEvent struct {
	baseEvent
	Instance InstanceInfo `json:"instance"`
}

// NewInstanceCreatedEvent creates an InstanceCreatedEvent.
func NewInstanceCreatedEvent(info InstanceInfo) InstanceCreatedEvent {
	return InstanceCreatedEvent{
		baseEvent: newBaseEvent("instanceCreated"),
		Instance:  info,
	}
}

func (e InstanceCreatedEvent) Payload() any { return e }

// InstanceTerminatedEvent is emitted when an instance is explicitly
// terminated by a caller. Mutually exclusive with InstanceClosedEvent
// for any given instance.
type InstanceTerminatedEvent struct {
	baseEvent
	InstanceID string `json:"instanceId"`
}

// NewInstanceTerminatedEvent creates an InstanceTerminatedEvent.
func NewInstanceTerminatedEvent(instanceID string) InstanceTerminatedEvent {
	return InstanceTerminatedEvent{
		baseEvent:  newBaseEvent("instanceTerminated"),
		InstanceID: instanceID,
	}
}

func (e InstanceTerminatedEvent) Payload() any { return e }

// InstanceClosedEvent is emitted exactly once when a process exits on its
// own. Carries the full final snapshot including status and exit code.
type InstanceClosedEvent struct {
	baseEvent
	Instance InstanceInfo `json:"instance"`
}

// NewInstanceClosedEvent creates an InstanceClosedEvent.
func NewInstanceClosedEvent(info InstanceInfo) InstanceClosedEvent {
	return InstanceClosedEvent{
		baseEvent: newBaseEvent("instanceClosed"),
		Instance:  info,
	}
}

func (e InstanceClosedEvent) Payload() any { return e }

// -----------------------------------------------------------------------------
// Process Output Events
// -----------------------------------------------------------------------------

// StreamTag identifies which of a process's output streams produced a chunk.
type StreamTag string

const (
	StreamOut StreamTag = "out"
	StreamErr StreamTag = "err"
)

// ProcessOutputEvent carries one chunk produced by a single stream of a
// single instance. Chunk order is preserved per stream; no ordering is
// guaranteed between the two streams of one instance.
type ProcessOutputEvent struct {
	baseEvent
	InstanceID string    `json:"instanceId"`
	StreamTag  StreamTag `json:"streamTag"`
	Data       string    `json:"data"`
}

// NewProcessOutputEvent creates a ProcessOutputEvent.
func NewProcessOutputEvent(instanceID string, tag StreamTag, data string) ProcessOutputEvent {
	return ProcessOutputEvent{
		baseEvent:  newBaseEvent("processOutput"),
		InstanceID: instanceID,
		StreamTag:  tag,
		Data:       data,
	}
}

func (e ProcessOutputEvent) Payload() any { return e }

// -----------------------------------------------------------------------------
// File Watcher Events
// -----------------------------------------------------------------------------

// FileChangeEvent is emitted by the watcher for a change to a regular file
// under a monitored project path.
type FileChangeEvent struct {
	baseEvent
	ProjectPath string `json:"projectPath"`
	Path        string `json:"path"`
	Op          string `json:"op"`
}

// NewFileChangeEvent creates a FileChangeEvent.
func NewFileChangeEvent(projectPath, path, op string) FileChangeEvent {
	return FileChangeEvent{
		baseEvent:   newBaseEvent("fileChange"),
		ProjectPath: projectPath,
		Path:        path,
		Op:          op,
	}
}

func (e FileChangeEvent) Payload() any { return e }

// DirectoryChangeEvent is emitted by the watcher when a directory is
// created, removed, or renamed under a monitored project path.
type DirectoryChangeEvent struct {
	baseEvent
	ProjectPath string `json:"projectPath"`
	Path        string `json:"path"`
	Op          string `json:"op"`
}

// NewDirectoryChangeEvent creates a DirectoryChangeEvent.
func NewDirectoryChangeEvent(projectPath, path, op string) DirectoryChangeEvent {
	return DirectoryChangeEvent{
		baseEvent:   newBaseEvent("directoryChange"),
		ProjectPath: projectPath,
		Path:        path,
		Op:          op,
	}
}

func (e DirectoryChangeEvent) Payload() any { return e }

// MonitoringStartedEvent is emitted when a project path begins being watched.
type MonitoringStartedEvent struct {
	baseEvent
	ProjectPath string `json:"projectPath"`
}

// NewMonitoringStartedEvent creates a MonitoringStartedEvent.
func NewMonitoringStartedEvent(projectPath string) MonitoringStartedEvent {
	return MonitoringStartedEvent{
		baseEvent:   newBaseEvent("monitoringStarted"),
		ProjectPath: projectPath,
	}
}

func (e MonitoringStartedEvent) Payload() any { return e }

// MonitoringStoppedEvent is emitted when a project path stops being watched.
type MonitoringStoppedEvent struct {
	baseEvent
	ProjectPath string `json:"projectPath"`
}

// NewMonitoringStoppedEvent creates a MonitoringStoppedEvent.
func NewMonitoringStoppedEvent(projectPath string) MonitoringStoppedEvent {
	return MonitoringStoppedEvent{
		baseEvent:   newBaseEvent("monitoringStopped"),
		ProjectPath: projectPath,
	}
}

func (e MonitoringStoppedEvent) Payload() any { return e }

// -----------------------------------------------------------------------------
// Activity Events
// -----------------------------------------------------------------------------

// ActivityRecord is a snapshot of a classified activity. Mirrors
// activity.Activity for decoupling.
type ActivityRecord struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Score       float64   `json:"score"`
	InstanceID  string    `json:"instanceId,omitempty"`
	Path        string    `json:"path,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ActivityParsedEvent is emitted for every activity the classifier produces.
// The hub broadcasts it to all connected clients.
type ActivityParsedEvent struct {
	baseEvent
	Activity ActivityRecord `json:"activity"`
}

// NewActivityParsedEvent creates an ActivityParsedEvent.
func NewActivityParsedEvent(rec ActivityRecord) ActivityParsedEvent {
	return ActivityParsedEvent{
		baseEvent: newBaseEvent("activityParsed"),
		Activity:  rec,
	}
}

func (e ActivityParsedEvent) Payload() any { return e }

// -----------------------------------------------------------------------------
// Task Execution Events
// -----------------------------------------------------------------------------

// TaskStartedEvent is the first event of a streaming task run.
type TaskStartedEvent struct {
	baseEvent
	TaskID           string `json:"taskId"`
	Title            string `json:"title"`
	ProjectPath      string `json:"projectPath"`
	SessionContinued bool   `json:"sessionContinued"`
}

// NewTaskStartedEvent creates a TaskStartedEvent.
func NewTaskStartedEvent(taskID, title, projectPath string, sessionContinued bool) TaskStartedEvent {
	return TaskStartedEvent{
		baseEvent:        newBaseEvent("taskStarted"),
		TaskID:           taskID,
		Title:            title,
		ProjectPath:      projectPath,
		SessionContinued: sessionContinued,
	}
}

func (e TaskStartedEvent) Payload() any { return e }

// TaskProgressEvent relays one progress callback invocation to the
// connection that requested the task. Never broadcast.
type TaskProgressEvent struct {
	baseEvent
	TaskID   string `json:"taskId"`
	Progress string `json:"progress"`
}

// NewTaskProgressEvent creates a TaskProgressEvent.
func NewTaskProgressEvent(taskID, progress string) TaskProgressEvent {
	return TaskProgressEvent{
		baseEvent: newBaseEvent("taskProgress"),
		TaskID:    taskID,
		Progress:  progress,
	}
}

func (e TaskProgressEvent) Payload() any { return e }

// TaskCompletedEvent is the success terminal event of a task run.
// Exactly one terminal event (completed xor error) occurs per run.
type TaskCompletedEvent struct {
	baseEvent
	TaskID  string `json:"taskId"`
	Result  string `json:"result"`
	Success bool   `json:"success"`
}

// NewTaskCompletedEvent creates a TaskCompletedEvent.
func NewTaskCompletedEvent(taskID, result string) TaskCompletedEvent {
	return TaskCompletedEvent{
		baseEvent: newBaseEvent("taskCompleted"),
		TaskID:    taskID,
		Result:    result,
		Success:   true,
	}
}

func (e TaskCompletedEvent) Payload() any { return e }

// TaskErrorEvent is the failure terminal event of a task run.
type TaskErrorEvent struct {
	baseEvent
	TaskID  string `json:"taskId,omitempty"`
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// NewTaskErrorEvent creates a TaskErrorEvent.
func NewTaskErrorEvent(taskID, errMsg string) TaskErrorEvent {
	return TaskErrorEvent{
		baseEvent: newBaseEvent("taskError"),
		TaskID:    taskID,
		Error:     errMsg,
		Success:   false,
	}
}

func (e TaskErrorEvent) Payload() any { return e }
