package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// SQLiteRepository provides SQLite-based task storage, the default when
// database.driver is "sqlite".
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (creating if needed) a SQLite-backed task store.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		agent_type TEXT NOT NULL,
		base_branch TEXT NOT NULL DEFAULT 'main',
		model TEXT DEFAULT '',
		kanban_status TEXT NOT NULL DEFAULT 'todo',
		current_execution_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_workspace_id ON tasks(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_project_id ON tasks(project_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// CreateTask creates a new task.
func (r *SQLiteRepository) CreateTask(ctx context.Context, task *v1.Task) error {
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

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, workspace_id, project_id, title, description, agent_type, base_branch, model, kanban_status, current_execution_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.WorkspaceID, task.ProjectID, task.Title, task.Description, task.AgentType, task.BaseBranch, task.Model, task.KanbanStatus, task.CurrentExecutionID, task.CreatedAt, task.UpdatedAt)

	return err
}

// GetTask retrieves a task by ID.
func (r *SQLiteRepository) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	task := &v1.Task{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, project_id, title, description, agent_type, base_branch, model, kanban_status, current_execution_id, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.WorkspaceID, &task.ProjectID, &task.Title, &task.Description, &task.AgentType, &task.BaseBranch, &task.Model, &task.KanbanStatus, &task.CurrentExecutionID, &task.CreatedAt, &task.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	return task, nil
}

// UpdateTask updates an existing task.
func (r *SQLiteRepository) UpdateTask(ctx context.Context, task *v1.Task) error {
	task.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET workspace_id = ?, project_id = ?, title = ?, description = ?, agent_type = ?, base_branch = ?, model = ?, kanban_status = ?, current_execution_id = ?, updated_at = ?
		WHERE id = ?
	`, task.WorkspaceID, task.ProjectID, task.Title, task.Description, task.AgentType, task.BaseBranch, task.Model, task.KanbanStatus, task.CurrentExecutionID, task.UpdatedAt, task.ID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", task.ID)
	}
	return nil
}

// DeleteTask deletes a task by ID.
func (r *SQLiteRepository) DeleteTask(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// ListTasks returns all tasks for a workspace.
func (r *SQLiteRepository) ListTasks(ctx context.Context, workspaceID string) ([]*v1.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, project_id, title, description, agent_type, base_branch, model, kanban_status, current_execution_id, created_at, updated_at
		FROM tasks WHERE workspace_id = ? ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTasks(rows)
}

// ListTasksByProject returns all tasks under a project.
func (r *SQLiteRepository) ListTasksByProject(ctx context.Context, projectID string) ([]*v1.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workspace_id, project_id, title, description, agent_type, base_branch, model, kanban_status, current_execution_id, created_at, updated_at
		FROM tasks WHERE project_id = ? ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTasks(rows)
}

func (r *SQLiteRepository) scanTasks(rows *sql.Rows) ([]*v1.Task, error) {
	var result []*v1.Task
	for rows.Next() {
		task := &v1.Task{}
		err := rows.Scan(&task.ID, &task.WorkspaceID, &task.ProjectID, &task.Title, &task.Description, &task.AgentType, &task.BaseBranch, &task.Model, &task.KanbanStatus, &task.CurrentExecutionID, &task.CreatedAt, &task.UpdatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

// UpdateKanbanStatus updates a task's kanban column.
func (r *SQLiteRepository) UpdateKanbanStatus(ctx context.Context, id string, status v1.KanbanStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE tasks SET kanban_status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// SetCurrentExecutionID records or clears a task's active execution.
func (r *SQLiteRepository) SetCurrentExecutionID(ctx context.Context, id string, executionID *string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE tasks SET current_execution_id = ?, updated_at = ? WHERE id = ?`, executionID, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}
