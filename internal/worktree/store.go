package worktree

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Store is the interface for worktree record persistence.
type Store interface {
	CreateWorktree(ctx context.Context, wt *Worktree) error
	GetWorktreeByExecutionID(ctx context.Context, executionID string) (*Worktree, error)
	GetWorktreesByTaskID(ctx context.Context, taskID string) ([]*Worktree, error)
	ListActiveWorktrees(ctx context.Context) ([]*Worktree, error)
	UpdateWorktree(ctx context.Context, wt *Worktree) error
	DeleteWorktree(ctx context.Context, executionID string) error
}

// MemoryStore is an in-process Store, used for tests and single-node
// deployments that don't need worktree state to survive a restart. After
// a restart it holds no records, so Reconcile removes every existing
// worktree directory as untracked.
type MemoryStore struct {
	mu    sync.RWMutex
	byExe map[string]*Worktree
}

// NewMemoryStore creates an empty in-memory worktree store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byExe: make(map[string]*Worktree)}
}

func (s *MemoryStore) CreateWorktree(_ context.Context, wt *Worktree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byExe[wt.ExecutionID] = wt.Clone()
	return nil
}

func (s *MemoryStore) GetWorktreeByExecutionID(_ context.Context, executionID string) (*Worktree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wt, ok := s.byExe[executionID]
	if !ok {
		return nil, nil
	}
	return wt.Clone(), nil
}

func (s *MemoryStore) GetWorktreesByTaskID(_ context.Context, taskID string) ([]*Worktree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Worktree
	for _, wt := range s.byExe {
		if wt.TaskID == taskID {
			out = append(out, wt.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ListActiveWorktrees(_ context.Context) ([]*Worktree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Worktree
	for _, wt := range s.byExe {
		if wt.Status == StatusActive {
			out = append(out, wt.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateWorktree(_ context.Context, wt *Worktree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byExe[wt.ExecutionID]; !ok {
		return fmt.Errorf("worktree not found: %s", wt.ExecutionID)
	}
	s.byExe[wt.ExecutionID] = wt.Clone()
	return nil
}

func (s *MemoryStore) DeleteWorktree(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byExe, executionID)
	return nil
}

// SQLiteStore implements Store using database/sql over mattn/go-sqlite3,
// matching the schema-on-open pattern used by the task repository.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open *sql.DB, creating the worktrees
// table if it does not exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize worktree schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS worktrees (
			execution_id    TEXT PRIMARY KEY,
			task_id         TEXT NOT NULL,
			project_id      TEXT NOT NULL,
			repository_path TEXT NOT NULL,
			path            TEXT NOT NULL,
			branch          TEXT NOT NULL,
			base_branch     TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'active',
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL,
			deleted_at      TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_worktrees_task_id ON worktrees(task_id);
		CREATE INDEX IF NOT EXISTS idx_worktrees_status ON worktrees(status);
	`)
	return err
}

func (s *SQLiteStore) CreateWorktree(ctx context.Context, wt *Worktree) error {
	now := time.Now().UTC()
	if wt.CreatedAt.IsZero() {
		wt.CreatedAt = now
	}
	if wt.UpdatedAt.IsZero() {
		wt.UpdatedAt = now
	}
	if wt.Status == "" {
		wt.Status = StatusActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worktrees (
			execution_id, task_id, project_id, repository_path, path,
			branch, base_branch, status, created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, wt.ExecutionID, wt.TaskID, wt.ProjectID, wt.RepositoryPath, wt.Path,
		wt.Branch, wt.BaseBranch, wt.Status, wt.CreatedAt, wt.UpdatedAt, wt.DeletedAt)
	return err
}

func scanWorktree(row interface{ Scan(...any) error }) (*Worktree, error) {
	wt := &Worktree{}
	var deletedAt sql.NullTime
	if err := row.Scan(
		&wt.ExecutionID, &wt.TaskID, &wt.ProjectID, &wt.RepositoryPath, &wt.Path,
		&wt.Branch, &wt.BaseBranch, &wt.Status, &wt.CreatedAt, &wt.UpdatedAt, &deletedAt,
	); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		wt.DeletedAt = &deletedAt.Time
	}
	return wt, nil
}

const selectWorktreeColumns = `
	execution_id, task_id, project_id, repository_path, path,
	branch, base_branch, status, created_at, updated_at, deleted_at
`

func (s *SQLiteStore) GetWorktreeByExecutionID(ctx context.Context, executionID string) (*Worktree, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectWorktreeColumns+` FROM worktrees WHERE execution_id = ?`, executionID)
	wt, err := scanWorktree(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return wt, err
}

func (s *SQLiteStore) GetWorktreesByTaskID(ctx context.Context, taskID string) ([]*Worktree, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectWorktreeColumns+` FROM worktrees WHERE task_id = ? ORDER BY created_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanWorktrees(rows)
}

func (s *SQLiteStore) ListActiveWorktrees(ctx context.Context) ([]*Worktree, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectWorktreeColumns+` FROM worktrees WHERE status = ?`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanWorktrees(rows)
}

func scanWorktrees(rows *sql.Rows) ([]*Worktree, error) {
	var out []*Worktree
	for rows.Next() {
		wt, err := scanWorktree(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateWorktree(ctx context.Context, wt *Worktree) error {
	wt.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE worktrees SET
			path = ?, branch = ?, status = ?, updated_at = ?, deleted_at = ?
		WHERE execution_id = ?
	`, wt.Path, wt.Branch, wt.Status, wt.UpdatedAt, wt.DeletedAt, wt.ExecutionID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("worktree not found: %s", wt.ExecutionID)
	}
	return nil
}

func (s *SQLiteStore) DeleteWorktree(ctx context.Context, executionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM worktrees WHERE execution_id = ?`, executionID)
	return err
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
