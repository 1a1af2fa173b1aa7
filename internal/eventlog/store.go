package eventlog

import (
	"context"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Store is the Event Log's storage contract. Implementations must be safe
// for concurrent use: Append is effectively single-writer per execution
// (the engine's worker for that execution owns it), but Read/ListRuns/
// TailSince are called concurrently by REST handlers, the Subscription
// Bus, and recovery.
type Store interface {
	// CreateExecution registers a new Execution row before any event is
	// appended for it. promptPreview is persisted alongside for ListRuns.
	CreateExecution(ctx context.Context, exec *v1.Execution, promptPreview string) error

	// UpdateExecution persists exec's mutable fields (state, worktree,
	// timestamps, error). eventCount is not written here; Append keeps it.
	// Called by the engine on every state transition.
	UpdateExecution(ctx context.Context, exec *v1.Execution) error

	// GetExecution returns the current persisted snapshot of an execution.
	GetExecution(ctx context.Context, executionID string) (*v1.Execution, error)

	// CurrentExecution returns the most recently created execution for a
	// task, or nil if the task has never been executed.
	CurrentExecution(ctx context.Context, taskID string) (*v1.Execution, error)

	// Append assigns event.Seq = (previous seq for event.ExecutionID) + 1,
	// persists it durably, and returns the assigned seq. The execution
	// must already exist (see CreateExecution).
	Append(ctx context.Context, event *v1.ExecutionEvent) (int64, error)

	// Read returns a page of events for an execution in increasing seq
	// order, matching filter.
	Read(ctx context.Context, executionID string, filter Filter, offset, limit int) ([]*v1.ExecutionEvent, error)

	// ListRuns returns per-execution summaries for a task, most recent
	// first.
	ListRuns(ctx context.Context, taskID string) ([]*v1.RunSummary, error)

	// TailSince returns a channel that first replays every persisted
	// event with seq > sinceSeq, then continues delivering events as they
	// are appended, until the execution reaches a terminal state (at
	// which point the channel is closed after the final event). The
	// channel is also closed if ctx is cancelled.
	TailSince(ctx context.Context, executionID string, sinceSeq int64) (<-chan *v1.ExecutionEvent, error)

	// Recover scans for executions left non-terminal by an unclean
	// shutdown (last event is not session_ended) and appends the
	// synthetic status_changed{->failed} + session_ended{failed} pair to
	// each, per the crash-recovery rule. Returns the now-failed
	// executions so the caller can update the owning tasks' kanban
	// projection.
	Recover(ctx context.Context) ([]*v1.Execution, error)

	Close() error
}
