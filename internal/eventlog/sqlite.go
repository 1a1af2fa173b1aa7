package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/logger"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// SQLiteStore is the default Event Log backend, matching the single-writer
// SQLite pattern used by internal/task/repository.SQLiteRepository: one
// open connection, WAL journal, schema-on-open.
type SQLiteStore struct {
	db     *sql.DB
	logger *logger.Logger

	// mu serializes Append across all executions. The gateway is a
	// single-process, single-writer system; a per-execution lock would
	// only help multi-process writers, which this system does not have.
	mu sync.Mutex

	notifyMu sync.Mutex
	notify   map[string]chan struct{} // executionID -> wake channel, closed+replaced on Append
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) a SQLite-backed event log.
func NewSQLiteStore(dbPath string, log *logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: log, notify: make(map[string]chan struct{})}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		host_id TEXT NOT NULL DEFAULT '',
		agent_type TEXT NOT NULL,
		state TEXT NOT NULL,
		worktree_path TEXT NOT NULL DEFAULT '',
		branch_name TEXT NOT NULL DEFAULT '',
		prompt_preview TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME,
		error TEXT NOT NULL DEFAULT '',
		event_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_executions_task_id ON executions(task_id, created_at);

	CREATE TABLE IF NOT EXISTS execution_events (
		execution_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		task_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		kind TEXT NOT NULL,
		agent_event_kind TEXT NOT NULL DEFAULT '',
		payload BLOB NOT NULL,
		PRIMARY KEY (execution_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON execution_events(execution_id, kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExecution registers a new execution row, event_count starting at 0.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *v1.Execution, promptPreview string) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, task_id, host_id, agent_type, state, worktree_path, branch_name, prompt_preview, created_at, started_at, ended_at, error, event_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, exec.ID, exec.TaskID, exec.HostID, exec.AgentType, exec.State, exec.WorktreePath, exec.BranchName, promptPreview, exec.CreatedAt, exec.StartedAt, exec.EndedAt, exec.Error)
	return err
}

// UpdateExecution persists the full mutable snapshot of an execution.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *v1.Execution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET host_id = ?, state = ?, worktree_path = ?, branch_name = ?, started_at = ?, ended_at = ?, error = ?
		WHERE id = ?
	`, exec.HostID, exec.State, exec.WorktreePath, exec.BranchName, exec.StartedAt, exec.EndedAt, exec.Error, exec.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrUnknownExecution
	}
	return nil
}

func (s *SQLiteStore) scanExecution(row interface {
	Scan(dest ...any) error
}) (*v1.Execution, error) {
	exec := &v1.Execution{}
	var promptPreview string
	err := row.Scan(&exec.ID, &exec.TaskID, &exec.HostID, &exec.AgentType, &exec.State, &exec.WorktreePath, &exec.BranchName, &promptPreview, &exec.CreatedAt, &exec.StartedAt, &exec.EndedAt, &exec.Error, &exec.EventCount)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownExecution
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

const executionColumns = "id, task_id, host_id, agent_type, state, worktree_path, branch_name, prompt_preview, created_at, started_at, ended_at, error, event_count"

// GetExecution returns the current persisted snapshot of an execution.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*v1.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, executionID)
	return s.scanExecution(row)
}

// CurrentExecution returns the most recently created execution for a task.
func (s *SQLiteStore) CurrentExecution(ctx context.Context, taskID string) (*v1.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, taskID)
	exec, err := s.scanExecution(row)
	if err == ErrUnknownExecution {
		return nil, nil
	}
	return exec, err
}

// Append assigns the next seq for event.ExecutionID, persists the event,
// and bumps the owning execution's event_count in the same transaction.
func (s *SQLiteStore) Append(ctx context.Context, event *v1.ExecutionEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var currentCount int64
	if err := tx.QueryRowContext(ctx, `SELECT event_count FROM executions WHERE id = ?`, event.ExecutionID).Scan(&currentCount); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrUnknownExecution
		}
		return 0, err
	}

	seq := currentCount + 1
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Seq = seq

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}

	agentEventKind := ""
	if event.AgentEvent != nil {
		agentEventKind = string(event.AgentEvent.Kind)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO execution_events (execution_id, seq, task_id, event_id, timestamp, kind, agent_event_kind, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ExecutionID, seq, event.TaskID, event.EventID, event.Timestamp, event.Kind, agentEventKind, payload); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE executions SET event_count = ? WHERE id = ?`, seq, event.ExecutionID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	s.wake(event.ExecutionID)
	return seq, nil
}

// Read returns a page of events for an execution, matching filter.
func (s *SQLiteStore) Read(ctx context.Context, executionID string, filter Filter, offset, limit int) ([]*v1.ExecutionEvent, error) {
	query := `SELECT payload FROM execution_events WHERE execution_id = ?`
	args := []any{executionID}

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.AgentEventKind != "" {
		query += ` AND agent_event_kind = ?`
		args = append(args, filter.AgentEventKind)
	}
	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*v1.ExecutionEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		ev := &v1.ExecutionEvent{}
		if err := json.Unmarshal(payload, ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListRuns returns per-execution summaries for a task, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, taskID string) ([]*v1.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_type, state, started_at, ended_at, event_count, prompt_preview
		FROM executions WHERE task_id = ? ORDER BY created_at DESC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*v1.RunSummary
	for rows.Next() {
		r := &v1.RunSummary{TaskID: taskID}
		if err := rows.Scan(&r.ExecutionID, &r.AgentType, &r.FinalState, &r.StartedAt, &r.EndedAt, &r.EventCount, &r.PromptPreview); err != nil {
			return nil, err
		}
		if r.StartedAt != nil {
			end := time.Now().UTC()
			if r.EndedAt != nil {
				end = *r.EndedAt
			}
			r.DurationMs = end.Sub(*r.StartedAt).Milliseconds()
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// wake closes (and replaces) the notification channel for executionID,
// waking every TailSince goroutine blocked on it.
func (s *SQLiteStore) wake(executionID string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if ch, ok := s.notify[executionID]; ok {
		close(ch)
	}
	s.notify[executionID] = make(chan struct{})
}

func (s *SQLiteStore) waitChan(executionID string) <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	ch, ok := s.notify[executionID]
	if !ok {
		ch = make(chan struct{})
		s.notify[executionID] = ch
	}
	return ch
}

// TailSince replays persisted events after sinceSeq, then blocks on new
// appends until the execution reaches a terminal state.
func (s *SQLiteStore) TailSince(ctx context.Context, executionID string, sinceSeq int64) (<-chan *v1.ExecutionEvent, error) {
	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}

	out := make(chan *v1.ExecutionEvent, 64)
	go func() {
		defer close(out)
		cursor := sinceSeq

		for {
			// Fetch the wake channel before reading so that any Append
			// racing with this iteration either lands in this Read (and
			// we loop again without blocking) or closes the very channel
			// we are about to select on (waking us immediately). There is
			// no window where an Append can be missed entirely.
			wake := s.waitChan(executionID)

			events, err := s.Read(ctx, executionID, Filter{}, int(cursor), 0)
			if err != nil {
				if s.logger != nil {
					s.logger.Error("tailSince read failed", zap.Error(err))
				}
				return
			}

			terminal := false
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				cursor = ev.Seq
				if ev.Kind == v1.EventSessionEnded {
					terminal = true
				}
			}
			if terminal {
				return
			}
			if len(events) > 0 {
				continue
			}

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Recover applies the crash-recovery rule: any execution whose last event
// is not session_ended gets a synthetic status_changed{->failed} and
// session_ended{failed} appended.
func (s *SQLiteStore) Recover(ctx context.Context) ([]*v1.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE state NOT IN (?, ?, ?)`,
		v1.ExecCompleted, v1.ExecFailed, v1.ExecCancelled)
	if err != nil {
		return nil, err
	}

	var stale []*v1.Execution
	for rows.Next() {
		exec, err := s.scanExecution(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, exec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var recovered []*v1.Execution
	for _, exec := range stale {
		last, err := s.lastEvent(ctx, exec.ID)
		if err != nil {
			return nil, err
		}
		if last != nil && last.Kind == v1.EventSessionEnded {
			continue // terminal event already present; state column just never caught up
		}

		now := time.Now().UTC()
		oldState := exec.State
		exec.State = v1.ExecFailed
		exec.Error = "gateway restarted while execution was in flight"
		exec.EndedAt = &now

		statusEvent := &v1.ExecutionEvent{
			ExecutionID: exec.ID,
			TaskID:      exec.TaskID,
			Kind:        v1.EventStatusChanged,
			StatusChanged: &v1.StatusChangedPayload{
				OldState: oldState,
				NewState: v1.ExecFailed,
			},
		}
		if _, err := s.Append(ctx, statusEvent); err != nil {
			return nil, err
		}

		durationMs := int64(0)
		if exec.StartedAt != nil {
			durationMs = now.Sub(*exec.StartedAt).Milliseconds()
		}
		endedEvent := &v1.ExecutionEvent{
			ExecutionID: exec.ID,
			TaskID:      exec.TaskID,
			Kind:        v1.EventSessionEnded,
			SessionEnded: &v1.SessionEndedPayload{
				FinalState: v1.ExecFailed,
				DurationMs: durationMs,
			},
		}
		seq, err := s.Append(ctx, endedEvent)
		if err != nil {
			return nil, err
		}
		exec.EventCount = seq

		if err := s.UpdateExecution(ctx, exec); err != nil {
			return nil, err
		}
		recovered = append(recovered, exec)
	}

	return recovered, nil
}

func (s *SQLiteStore) lastEvent(ctx context.Context, executionID string) (*v1.ExecutionEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM execution_events WHERE execution_id = ? ORDER BY seq DESC LIMIT 1`, executionID)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	ev := &v1.ExecutionEvent{}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
