// Package repository provides storage backends for the Task Store.
package repository

import (
	"context"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Repository defines task storage operations. Implementations must be safe
// for concurrent use; the Execution Engine and REST handlers both read and
// write tasks from separate goroutines.
type Repository interface {
	CreateTask(ctx context.Context, task *v1.Task) error
	GetTask(ctx context.Context, id string) (*v1.Task, error)
	UpdateTask(ctx context.Context, task *v1.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, workspaceID string) ([]*v1.Task, error)
	ListTasksByProject(ctx context.Context, projectID string) ([]*v1.Task, error)

	// UpdateKanbanStatus moves a task between todo/doing/done without
	// touching its other fields.
	UpdateKanbanStatus(ctx context.Context, id string, status v1.KanbanStatus) error

	// SetCurrentExecutionID records (or clears, when executionID is nil)
	// the task's active execution, enforcing the at-most-one-active-
	// execution-per-task invariant at the call site in internal/execution.
	SetCurrentExecutionID(ctx context.Context, id string, executionID *string) error

	// Close releases underlying connections (for database-backed stores).
	Close() error
}
