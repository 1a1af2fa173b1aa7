package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// MemoryRepository provides in-memory task storage, used for local
// development and tests.
type MemoryRepository struct {
	tasks map[string]*v1.Task
	mu    sync.RWMutex
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory task repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*v1.Task)}
}

// Close is a no-op for the in-memory repository.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateTask creates a new task.
func (r *MemoryRepository) CreateTask(ctx context.Context, task *v1.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.KanbanStatus == "" {
		task.KanbanStatus = v1.KanbanTodo
	}
	if task.BaseBranch == "" {
		task.BaseBranch = v1.DefaultBaseBranch
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	r.tasks[task.ID] = task.Clone()
	return nil
}

// GetTask retrieves a task by ID.
func (r *MemoryRepository) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	return task.Clone(), nil
}

// UpdateTask updates an existing task.
func (r *MemoryRepository) UpdateTask(ctx context.Context, task *v1.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; !ok {
		return fmt.Errorf("task not found: %s", task.ID)
	}
	task.UpdatedAt = time.Now().UTC()
	r.tasks[task.ID] = task.Clone()
	return nil
}

// DeleteTask deletes a task by ID.
func (r *MemoryRepository) DeleteTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	delete(r.tasks, id)
	return nil
}

// ListTasks returns all tasks for a workspace.
func (r *MemoryRepository) ListTasks(ctx context.Context, workspaceID string) ([]*v1.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*v1.Task
	for _, task := range r.tasks {
		if task.WorkspaceID == workspaceID {
			result = append(result, task.Clone())
		}
	}
	return result, nil
}

// ListTasksByProject returns all tasks under a project.
func (r *MemoryRepository) ListTasksByProject(ctx context.Context, projectID string) ([]*v1.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*v1.Task
	for _, task := range r.tasks {
		if task.ProjectID == projectID {
			result = append(result, task.Clone())
		}
	}
	return result, nil
}

// UpdateKanbanStatus updates a task's kanban column.
func (r *MemoryRepository) UpdateKanbanStatus(ctx context.Context, id string, status v1.KanbanStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	task.KanbanStatus = status
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// SetCurrentExecutionID records or clears a task's active execution.
func (r *MemoryRepository) SetCurrentExecutionID(ctx context.Context, id string, executionID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	if executionID != nil {
		eid := *executionID
		task.CurrentExecutionID = &eid
	} else {
		task.CurrentExecutionID = nil
	}
	task.UpdatedAt = time.Now().UTC()
	return nil
}
