// Package service implements the Task Store's business logic: validation,
// the at-most-one-active-execution-per-task invariant, and change
// notification, sitting between the REST handlers and the repository.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/errors"
	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/events/bus"
	"github.com/kandev/kandev/internal/task/repository"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Service is the Task Store's application layer.
type Service struct {
	repo   repository.Repository
	bus    bus.EventBus
	logger *logger.Logger
}

// NewService constructs a Service over repo, publishing task changes on bus.
func NewService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: eventBus, logger: log}
}

// CreateTaskRequest describes a new task.
type CreateTaskRequest struct {
	WorkspaceID string
	ProjectID   string
	Title       string
	Description string
	AgentType   v1.AgentType
	BaseBranch  string
	Model       string
}

// CreateTask validates and persists a new task.
func (s *Service) CreateTask(ctx context.Context, req *CreateTaskRequest) (*v1.Task, error) {
	if req.Title == "" {
		return nil, errors.ValidationError("title", "is required")
	}
	if req.AgentType == "" {
		return nil, errors.ValidationError("agent_type", "is required")
	}

	task := &v1.Task{
		WorkspaceID:  req.WorkspaceID,
		ProjectID:    req.ProjectID,
		Title:        req.Title,
		Description:  req.Description,
		AgentType:    req.AgentType,
		BaseBranch:   req.BaseBranch,
		Model:        req.Model,
		KanbanStatus: v1.KanbanTodo,
	}
	if task.BaseBranch == "" {
		task.BaseBranch = v1.DefaultBaseBranch
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.emitChange(nil, task)
	return task, nil
}

// GetTask retrieves a task by ID.
func (s *Service) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, errors.NotFound("task", id)
	}
	return task, nil
}

// ListTasks returns all tasks in a workspace.
func (s *Service) ListTasks(ctx context.Context, workspaceID string) ([]*v1.Task, error) {
	return s.repo.ListTasks(ctx, workspaceID)
}

// ListTasksByProject returns all tasks under a project.
func (s *Service) ListTasksByProject(ctx context.Context, projectID string) ([]*v1.Task, error) {
	return s.repo.ListTasksByProject(ctx, projectID)
}

// UpdateTaskRequest carries the fields a caller may change; nil fields are
// left untouched.
type UpdateTaskRequest struct {
	Title       *string
	Description *string
	Model       *string
}

// UpdateTask applies a partial update to a task's metadata.
func (s *Service) UpdateTask(ctx context.Context, id string, req *UpdateTaskRequest) (*v1.Task, error) {
	before, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, errors.NotFound("task", id)
	}
	after := before.Clone()

	if req.Title != nil {
		if *req.Title == "" {
			return nil, errors.ValidationError("title", "cannot be empty")
		}
		after.Title = *req.Title
	}
	if req.Description != nil {
		after.Description = *req.Description
	}
	if req.Model != nil {
		after.Model = *req.Model
	}

	if err := s.repo.UpdateTask(ctx, after); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	s.emitChange(before, after)
	return after, nil
}

// UpdateKanbanStatus moves a task between todo/doing/done.
func (s *Service) UpdateKanbanStatus(ctx context.Context, id string, status v1.KanbanStatus) (*v1.Task, error) {
	before, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, errors.NotFound("task", id)
	}

	if err := s.repo.UpdateKanbanStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("update kanban status: %w", err)
	}

	after := before.Clone()
	after.KanbanStatus = status
	s.emitChange(before, after)
	return after, nil
}

// DeleteTask removes a task, refusing while it has a non-terminal
// execution in flight (mirrors the at-most-one-active-execution invariant
// tracked by CurrentExecutionID).
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return errors.NotFound("task", id)
	}
	if task.CurrentExecutionID != nil {
		return errors.PreconditionFailed(fmt.Sprintf("task %s has an active execution %s; abort it first", id, *task.CurrentExecutionID))
	}

	if err := s.repo.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	s.emitChange(task, nil)
	return nil
}

// ApplyExecutionTransition updates a task's kanban projection and its
// currentExecutionId together, as the Execution Engine does on every
// execution transition that affects the task: doing iff the current
// execution is non-terminal, and the id is cleared only after the kanban
// projection has been updated. executionID is nil to clear it.
func (s *Service) ApplyExecutionTransition(ctx context.Context, taskID string, executionID *string, status v1.KanbanStatus) (*v1.Task, error) {
	before, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, errors.NotFound("task", taskID)
	}

	if err := s.repo.UpdateKanbanStatus(ctx, taskID, status); err != nil {
		return nil, fmt.Errorf("update kanban status: %w", err)
	}
	if err := s.repo.SetCurrentExecutionID(ctx, taskID, executionID); err != nil {
		return nil, fmt.Errorf("set current execution id: %w", err)
	}

	after := before.Clone()
	after.KanbanStatus = status
	after.CurrentExecutionID = executionID
	s.emitChange(before, after)
	return after, nil
}

// taskChangedEnvelope is the payload published on bus.TaskChangedSubject.
type taskChangedEnvelope struct {
	TaskID string   `json:"task_id"`
	Before *v1.Task `json:"before,omitempty"`
	After  *v1.Task `json:"after,omitempty"`
}

// emitChange publishes a (before, after) pair for subscribers tracking
// task-level changes; either side may be nil (creation or deletion).
func (s *Service) emitChange(before, after *v1.Task) {
	taskID := ""
	switch {
	case after != nil:
		taskID = after.ID
	case before != nil:
		taskID = before.ID
	default:
		return
	}

	data, err := json.Marshal(taskChangedEnvelope{TaskID: taskID, Before: before, After: after})
	if err != nil {
		s.logger.Error("failed to marshal task change", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	if err := s.bus.Publish(bus.TaskChangedSubject(taskID), data); err != nil {
		s.logger.Error("failed to publish task change", zap.String("task_id", taskID), zap.Error(err))
	}
}
