// Package api provides HTTP handlers for the Execution Engine's
// REST surface: execute/abort/cleanup/execution-status/runs/events,
// mounted under the same /api/tasks/:taskId prefix as internal/task/api.
package api

import (
	"time"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// ExecuteRequest starts a new execution for a task.
// POST /api/tasks/:taskId/execute
type ExecuteRequest struct {
	AgentType    v1.AgentType `json:"agent_type,omitempty"`
	BaseBranch   string       `json:"base_branch,omitempty"`
	Model        string       `json:"model,omitempty"`
	ExplicitHost string       `json:"host_id,omitempty"`
}

// ExecuteResponse is returned synchronously once the execution has been
// allocated and handed off to its worker goroutine; further progress is
// observed via the event stream, not this response.
type ExecuteResponse struct {
	ExecutionID string `json:"execution_id"`
}

// ExecutionStatusResponse mirrors v1.Execution for the execution-status
// poll endpoint.
type ExecutionStatusResponse struct {
	ExecutionID  string               `json:"execution_id"`
	TaskID       string               `json:"task_id"`
	HostID       string               `json:"host_id"`
	AgentType    v1.AgentType         `json:"agent_type"`
	State        v1.ExecutionState    `json:"state"`
	WorktreePath string               `json:"worktree_path,omitempty"`
	BranchName   string               `json:"branch_name,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	EndedAt      *time.Time           `json:"ended_at,omitempty"`
	Error        string               `json:"error,omitempty"`
	EventCount   int64                `json:"event_count"`
}

func executionToStatus(e *v1.Execution) *ExecutionStatusResponse {
	return &ExecutionStatusResponse{
		ExecutionID:  e.ID,
		TaskID:       e.TaskID,
		HostID:       e.HostID,
		AgentType:    e.AgentType,
		State:        e.State,
		WorktreePath: e.WorktreePath,
		BranchName:   e.BranchName,
		CreatedAt:    e.CreatedAt,
		StartedAt:    e.StartedAt,
		EndedAt:      e.EndedAt,
		Error:        e.Error,
		EventCount:   e.EventCount,
	}
}

// RunsListResponse lists per-execution summaries for a task, most recent
// first.
type RunsListResponse struct {
	Runs []*v1.RunSummary `json:"runs"`
}

// EventsPageResponse is a page of an execution's timeline.
type EventsPageResponse struct {
	Events []*v1.ExecutionEvent `json:"events"`
	Offset int                  `json:"offset"`
	Limit  int                  `json:"limit"`
}

// AbortResponse/CleanupResponse confirm the request was accepted;
// completion itself is observed via the event stream rather than an
// out-of-band error for a task that has already begun executing.
type AbortResponse struct {
	Accepted bool `json:"accepted"`
}

type CleanupResponse struct {
	Cleaned bool `json:"cleaned"`
}

// InputRequest forwards best-effort runtime input to the active adapter.
// POST /api/tasks/:taskId/input
type InputRequest struct {
	Content string `json:"content" binding:"required"`
}

type InputResponse struct {
	Delivered bool `json:"delivered"`
}
