package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kandev/kandev/internal/common/logger"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "executions.db")
	s, err := NewSQLiteStore(path, newTestLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedExecution(t *testing.T, s *SQLiteStore, execID, taskID string) {
	t.Helper()
	exec := &v1.Execution{ID: execID, TaskID: taskID, AgentType: v1.AgentTypeOpenCode, State: v1.ExecInitializing}
	if err := s.CreateExecution(context.Background(), exec, "Write a README file."); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
}

func TestAppend_ContiguousSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, s, "exec-1", "task-1")

	for i := 0; i < 5; i++ {
		seq, err := s.Append(ctx, &v1.ExecutionEvent{ExecutionID: "exec-1", TaskID: "task-1", Kind: v1.EventProgress, Progress: &v1.ProgressPayload{Message: "tick"}})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, seq)
		}
	}

	events, err := s.Read(ctx, "exec-1", Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
	}
}

func TestAppend_UnknownExecution(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(context.Background(), &v1.ExecutionEvent{ExecutionID: "missing", Kind: v1.EventProgress})
	if err != ErrUnknownExecution {
		t.Fatalf("expected ErrUnknownExecution, got %v", err)
	}
}

func TestRead_FilterByKind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, s, "exec-1", "task-1")

	mustAppend(t, s, &v1.ExecutionEvent{ExecutionID: "exec-1", TaskID: "task-1", Kind: v1.EventProgress, Progress: &v1.ProgressPayload{Message: "a"}})
	mustAppend(t, s, &v1.ExecutionEvent{ExecutionID: "exec-1", TaskID: "task-1", Kind: v1.EventAgentEvent, AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventMessage, Content: "hi"}})
	mustAppend(t, s, &v1.ExecutionEvent{ExecutionID: "exec-1", TaskID: "task-1", Kind: v1.EventAgentEvent, AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventCompleted, Success: true}})

	events, err := s.Read(ctx, "exec-1", Filter{Kind: v1.EventAgentEvent, AgentEventKind: v1.AgentEventCompleted}, 0, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) != 1 || events[0].AgentEvent.Kind != v1.AgentEventCompleted {
		t.Fatalf("expected exactly one completed event, got %d", len(events))
	}
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, s, "exec-1", "task-1")
	mustAppend(t, s, &v1.ExecutionEvent{ExecutionID: "exec-1", TaskID: "task-1", Kind: v1.EventSessionEnded, SessionEnded: &v1.SessionEndedPayload{FinalState: v1.ExecCompleted, DurationMs: 42}})

	exec, err := s.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	exec.State = v1.ExecCompleted
	if err := s.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution failed: %v", err)
	}

	runs, err := s.ListRuns(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].FinalState != v1.ExecCompleted {
		t.Errorf("expected finalState=completed, got %s", runs[0].FinalState)
	}
	if runs[0].EventCount != 1 {
		t.Errorf("expected eventCount=1, got %d", runs[0].EventCount)
	}
	if runs[0].PromptPreview != "Write a README file." {
		t.Errorf("expected prompt preview to be preserved, got %q", runs[0].PromptPreview)
	}
}

func TestTailSince_ReplaysThenFollowsUntilTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seedExecution(t, s, "exec-1", "task-1")

	for i := 0; i < 3; i++ {
		mustAppend(t, s, &v1.ExecutionEvent{ExecutionID: "exec-1", TaskID: "task-1", Kind: v1.EventProgress, Progress: &v1.ProgressPayload{Message: "tick"}})
	}

	tail, err := s.TailSince(ctx, "exec-1", 1)
	if err != nil {
		t.Fatalf("TailSince failed: %v", err)
	}

	go func() {
		mustAppend(t, s, &v1.ExecutionEvent{ExecutionID: "exec-1", TaskID: "task-1", Kind: v1.EventSessionEnded, SessionEnded: &v1.SessionEndedPayload{FinalState: v1.ExecCompleted}})
	}()

	var seqs []int64
	for ev := range tail {
		seqs = append(seqs, ev.Seq)
	}

	if len(seqs) != 3 {
		t.Fatalf("expected 3 events (seq 2,3,4), got %v", seqs)
	}
	for i, seq := range seqs {
		if seq != int64(i+2) {
			t.Errorf("event %d: expected seq %d, got %d", i, i+2, seq)
		}
	}
}

func TestRecover_AppendsSyntheticFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedExecution(t, s, "exec-1", "task-1")
	mustAppend(t, s, &v1.ExecutionEvent{ExecutionID: "exec-1", TaskID: "task-1", Kind: v1.EventStatusChanged, StatusChanged: &v1.StatusChangedPayload{OldState: v1.ExecInitializing, NewState: v1.ExecRunning}})

	exec, err := s.GetExecution(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	exec.State = v1.ExecRunning
	if err := s.UpdateExecution(ctx, exec); err != nil {
		t.Fatalf("UpdateExecution failed: %v", err)
	}

	recovered, err := s.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if len(recovered) != 1 {
		t.Fatalf("expected 1 recovered execution, got %d", len(recovered))
	}
	if recovered[0].State != v1.ExecFailed {
		t.Errorf("expected recovered execution to be failed, got %s", recovered[0].State)
	}

	events, err := s.Read(ctx, "exec-1", Filter{}, 0, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events after recovery, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != v1.EventSessionEnded || last.SessionEnded.FinalState != v1.ExecFailed {
		t.Errorf("expected final event to be session_ended{failed}, got %+v", last)
	}

	// Recovering again must be a no-op: the execution's last event is
	// now session_ended.
	recovered2, err := s.Recover(ctx)
	if err != nil {
		t.Fatalf("second Recover failed: %v", err)
	}
	if len(recovered2) != 0 {
		t.Fatalf("expected second Recover to find nothing, got %d", len(recovered2))
	}
}

func mustAppend(t *testing.T, s *SQLiteStore, ev *v1.ExecutionEvent) {
	t.Helper()
	if _, err := s.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}
