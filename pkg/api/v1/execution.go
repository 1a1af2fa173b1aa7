package v1

import "time"

// ExecutionState is the execution lifecycle state machine (see
// internal/execution for the transition table).
type ExecutionState string

const (
	ExecInitializing     ExecutionState = "initializing"
	ExecCreatingWorktree ExecutionState = "creating_worktree"
	ExecStarting         ExecutionState = "starting"
	ExecRunning          ExecutionState = "running"
	ExecPaused           ExecutionState = "paused"
	ExecCompleted        ExecutionState = "completed"
	ExecFailed           ExecutionState = "failed"
	ExecCancelled        ExecutionState = "cancelled"
	ExecCleaningUp       ExecutionState = "cleaning_up"
)

// Terminal reports whether the state never transitions further on its own.
func (s ExecutionState) Terminal() bool {
	switch s {
	case ExecCompleted, ExecFailed, ExecCancelled:
		return true
	default:
		return false
	}
}

// Execution is one attempt to run a task.
type Execution struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	HostID       string         `json:"host_id"`
	AgentType    AgentType      `json:"agent_type"`
	State        ExecutionState `json:"state"`
	WorktreePath string         `json:"worktree_path,omitempty"`
	BranchName   string         `json:"branch_name,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	Error        string         `json:"error,omitempty"`
	EventCount   int64          `json:"event_count"`
}

// Clone returns a value-safe copy for cross-goroutine reads.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	if e.StartedAt != nil {
		t := *e.StartedAt
		cp.StartedAt = &t
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// EventKind discriminates an ExecutionEvent's payload.
type EventKind string

const (
	EventStatusChanged   EventKind = "status_changed"
	EventSessionStarted  EventKind = "session_started"
	EventSessionEnded    EventKind = "session_ended"
	EventProgress        EventKind = "progress"
	EventAgentEvent      EventKind = "agent_event"
)

// AgentEventKind discriminates the inner variant of an EventAgentEvent.
type AgentEventKind string

const (
	AgentEventThinking   AgentEventKind = "thinking"
	AgentEventCommand    AgentEventKind = "command"
	AgentEventFileChange AgentEventKind = "file_change"
	AgentEventToolCall   AgentEventKind = "tool_call"
	AgentEventMessage    AgentEventKind = "message"
	AgentEventError      AgentEventKind = "error"
	AgentEventCompleted  AgentEventKind = "completed"
	AgentEventRawOutput  AgentEventKind = "raw_output"
)

// FileAction is the kind of change file_change events report.
type FileAction string

const (
	FileCreated  FileAction = "created"
	FileModified FileAction = "modified"
	FileDeleted  FileAction = "deleted"
	FileRenamed  FileAction = "renamed"
)

// OutputStream identifies stdout vs stderr for raw_output events.
type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// ExecutionEvent is a single entry in an execution's append-only timeline.
type ExecutionEvent struct {
	EventID     string         `json:"event_id"`
	ExecutionID string         `json:"execution_id"`
	TaskID      string         `json:"task_id"`
	Seq         int64          `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	Kind        EventKind      `json:"kind"`

	StatusChanged  *StatusChangedPayload  `json:"status_changed,omitempty"`
	SessionStarted *SessionStartedPayload `json:"session_started,omitempty"`
	SessionEnded   *SessionEndedPayload   `json:"session_ended,omitempty"`
	Progress       *ProgressPayload       `json:"progress,omitempty"`
	AgentEvent     *AgentEventPayload     `json:"agent_event,omitempty"`
}

type StatusChangedPayload struct {
	OldState ExecutionState `json:"old_state"`
	NewState ExecutionState `json:"new_state"`
}

type SessionStartedPayload struct {
	WorktreePath string `json:"worktree_path"`
	BranchName   string `json:"branch_name"`
}

type SessionEndedPayload struct {
	FinalState ExecutionState `json:"final_state"`
	DurationMs int64          `json:"duration_ms"`
}

type ProgressPayload struct {
	Message    string `json:"message"`
	Percentage *int   `json:"percentage,omitempty"`
}

// AgentEventPayload is the nested tagged union for kind=agent_event.
type AgentEventPayload struct {
	Kind AgentEventKind `json:"kind"`

	Content     string       `json:"content,omitempty"`     // thinking, message
	Command     string       `json:"command,omitempty"`     // command
	Output      string       `json:"output,omitempty"`      // command
	ExitCode    *int         `json:"exit_code,omitempty"`   // command
	Path        string       `json:"path,omitempty"`        // file_change
	Action      FileAction   `json:"action,omitempty"`       // file_change
	Diff        string       `json:"diff,omitempty"`        // file_change
	Tool        string       `json:"tool,omitempty"`        // tool_call
	Args        string       `json:"args,omitempty"`        // tool_call
	Result      string       `json:"result,omitempty"`      // tool_call
	Message     string       `json:"message,omitempty"`     // error
	Recoverable bool         `json:"recoverable,omitempty"` // error
	Success     bool         `json:"success,omitempty"`     // completed
	Summary     string       `json:"summary,omitempty"`     // completed
	Stream      OutputStream `json:"stream,omitempty"`      // raw_output
}

// RunSummary is a per-execution summary used by the run-history listing.
type RunSummary struct {
	ExecutionID   string         `json:"execution_id"`
	TaskID        string         `json:"task_id"`
	AgentType     AgentType      `json:"agent_type"`
	FinalState    ExecutionState `json:"final_state"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	EndedAt       *time.Time     `json:"ended_at,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	EventCount    int64          `json:"event_count"`
	PromptPreview string         `json:"prompt_preview,omitempty"`
}
