// Package api provides HTTP handlers for the Task Store's REST surface.
package api

import (
	"time"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// CreateTaskRequest creates a task.
type CreateTaskRequest struct {
	WorkspaceID string       `json:"workspace_id"`
	ProjectID   string       `json:"project_id"`
	Title       string       `json:"title" binding:"required"`
	Description string       `json:"description"`
	AgentType   v1.AgentType `json:"agent_type" binding:"required"`
	BaseBranch  string       `json:"base_branch,omitempty"`
	Model       string       `json:"model,omitempty"`
}

// UpdateTaskRequest is a partial update; nil fields are untouched.
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Model       *string `json:"model,omitempty"`
}

// UpdateKanbanStatusRequest moves a task between todo/doing/done.
type UpdateKanbanStatusRequest struct {
	KanbanStatus v1.KanbanStatus `json:"kanban_status" binding:"required"`
}

// TaskResponse represents a task in API responses.
type TaskResponse struct {
	ID                 string          `json:"id"`
	WorkspaceID        string          `json:"workspace_id"`
	ProjectID          string          `json:"project_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	AgentType          v1.AgentType    `json:"agent_type"`
	BaseBranch         string          `json:"base_branch"`
	Model              string          `json:"model,omitempty"`
	KanbanStatus       v1.KanbanStatus `json:"kanban_status"`
	CurrentExecutionID *string         `json:"current_execution_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TasksListResponse lists tasks.
type TasksListResponse struct {
	Tasks []*TaskResponse `json:"tasks"`
	Total int             `json:"total"`
}

func taskToResponse(t *v1.Task) *TaskResponse {
	return &TaskResponse{
		ID:                 t.ID,
		WorkspaceID:        t.WorkspaceID,
		ProjectID:          t.ProjectID,
		Title:              t.Title,
		Description:        t.Description,
		AgentType:          t.AgentType,
		BaseBranch:         t.BaseBranch,
		Model:              t.Model,
		KanbanStatus:       t.KanbanStatus,
		CurrentExecutionID: t.CurrentExecutionID,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}
