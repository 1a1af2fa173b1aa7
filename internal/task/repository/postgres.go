package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// PostgresRepository provides Postgres-backed task storage, used when
// database.driver is "postgres" and multiple gateway instances share one
// store.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository connects to Postgres using dsn and ensures the
// schema exists.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	repo := &PostgresRepository{pool: pool}
	if err := repo.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *PostgresRepository) initSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		agent_type TEXT NOT NULL,
		base_branch TEXT NOT NULL DEFAULT 'main',
		model TEXT NOT NULL DEFAULT '',
		kanban_status TEXT NOT NULL DEFAULT 'todo',
		current_execution_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_workspace_id ON tasks(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id);
	`)
	return err
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateTask creates a new task.
func (r *PostgresRepository) CreateTask(ctx context.Context, task *v1.Task) error {
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

	_, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (id, workspace_id, project_id, title, description, agent_type, base_branch, model, kanban_status, current_execution_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, task.ID, task.WorkspaceID, task.ProjectID, task.Title, task.Description, task.AgentType, task.BaseBranch, task.Model, task.KanbanStatus, task.CurrentExecutionID, task.CreatedAt, task.UpdatedAt)

	return err
}

// GetTask retrieves a task by ID.
func (r *PostgresRepository) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	task := &v1.Task{}

	err := r.pool.QueryRow(ctx, `
		SELECT id, workspace_id, project_id, title, description, agent_type, base_branch, model, kanban_status, current_execution_id, created_at, updated_at
		FROM tasks WHERE id = $1
	`, id).Scan(&task.ID, &task.WorkspaceID, &task.ProjectID, &task.Title, &task.Description, &task.AgentType, &task.BaseBranch, &task.Model, &task.KanbanStatus, &task.CurrentExecutionID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("task not found: %s: %w", id, err)
	}

	return task, nil
}

// UpdateTask updates an existing task.
func (r *PostgresRepository) UpdateTask(ctx context.Context, task *v1.Task) error {
	task.UpdatedAt = time.Now().UTC()

	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET workspace_id = $1, project_id = $2, title = $3, description = $4, agent_type = $5, base_branch = $6, model = $7, kanban_status = $8, current_execution_id = $9, updated_at = $10
		WHERE id = $11
	`, task.WorkspaceID, task.ProjectID, task.Title, task.Description, task.AgentType, task.BaseBranch, task.Model, task.KanbanStatus, task.CurrentExecutionID, task.UpdatedAt, task.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task not found: %s", task.ID)
	}
	return nil
}

// DeleteTask deletes a task by ID.
func (r *PostgresRepository) DeleteTask(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// ListTasks returns all tasks for a workspace.
func (r *PostgresRepository) ListTasks(ctx context.Context, workspaceID string) ([]*v1.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, project_id, title, description, agent_type, base_branch, model, kanban_status, current_execution_id, created_at, updated_at
		FROM tasks WHERE workspace_id = $1 ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPostgresTasks(rows)
}

// ListTasksByProject returns all tasks under a project.
func (r *PostgresRepository) ListTasksByProject(ctx context.Context, projectID string) ([]*v1.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, project_id, title, description, agent_type, base_branch, model, kanban_status, current_execution_id, created_at, updated_at
		FROM tasks WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPostgresTasks(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPostgresTasks(rows pgxRows) ([]*v1.Task, error) {
	var result []*v1.Task
	for rows.Next() {
		task := &v1.Task{}
		if err := rows.Scan(&task.ID, &task.WorkspaceID, &task.ProjectID, &task.Title, &task.Description, &task.AgentType, &task.BaseBranch, &task.Model, &task.KanbanStatus, &task.CurrentExecutionID, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

// UpdateKanbanStatus updates a task's kanban column.
func (r *PostgresRepository) UpdateKanbanStatus(ctx context.Context, id string, status v1.KanbanStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET kanban_status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// SetCurrentExecutionID records or clears a task's active execution.
func (r *PostgresRepository) SetCurrentExecutionID(ctx context.Context, id string, executionID *string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET current_execution_id = $1, updated_at = $2 WHERE id = $3`, executionID, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}
