package subscription

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kandev/kandev/internal/common/errors"
	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/eventlog"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

func newTestStore(t *testing.T) *eventlog.SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "executions.db")
	s, err := eventlog.NewSQLiteStore(path, newTestLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeTasks is a minimal TaskLookup backed by an in-memory map.
type fakeTasks struct {
	tasks map[string]*v1.Task
}

func (f *fakeTasks) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.NotFound("task", id)
	}
	return t, nil
}

func seedExecution(t *testing.T, s *eventlog.SQLiteStore, execID, taskID string) {
	t.Helper()
	exec := &v1.Execution{ID: execID, TaskID: taskID, AgentType: v1.AgentTypeOpenCode, State: v1.ExecRunning}
	if err := s.CreateExecution(context.Background(), exec, "write tests"); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
}

func TestSubscribe_NoExecutionClosesImmediately(t *testing.T) {
	store := newTestStore(t)
	taskID := "task-1"
	tasks := &fakeTasks{tasks: map[string]*v1.Task{taskID: {ID: taskID, CurrentExecutionID: nil}}}
	bus := NewBus(store, tasks, newTestLogger())

	events, err := bus.Subscribe(context.Background(), taskID, 0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed channel with no events")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed channel")
	}
}

func TestSubscribe_FinishedRunReplaysAfterCurrentIDCleared(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	execID, taskID := "exec-done", "task-done"
	seedExecution(t, store, execID, taskID)
	if _, err := store.Append(ctx, &v1.ExecutionEvent{ExecutionID: execID, TaskID: taskID, Kind: v1.EventProgress, Progress: &v1.ProgressPayload{Message: "tick"}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := store.Append(ctx, &v1.ExecutionEvent{ExecutionID: execID, TaskID: taskID, Kind: v1.EventSessionEnded, SessionEnded: &v1.SessionEndedPayload{FinalState: v1.ExecCompleted}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// The run has ended and the task's currentExecutionId is cleared;
	// Subscribe must still replay the most recent run, finitely.
	tasks := &fakeTasks{tasks: map[string]*v1.Task{taskID: {ID: taskID, CurrentExecutionID: nil}}}
	bus := NewBus(store, tasks, newTestLogger())

	events, err := bus.Subscribe(ctx, taskID, 0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	var seqs []int64
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if len(seqs) != 2 {
					t.Fatalf("expected 2 replayed events, got %v", seqs)
				}
				return
			}
			seqs = append(seqs, ev.Seq)
		case <-deadline:
			t.Fatal("timed out waiting for finite replay to close")
		}
	}
}

func TestSubscribeExecution_ReplaysThenFollows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	execID, taskID := "exec-1", "task-1"
	seedExecution(t, store, execID, taskID)

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, &v1.ExecutionEvent{ExecutionID: execID, TaskID: taskID, Kind: v1.EventProgress, Progress: &v1.ProgressPayload{Message: "tick"}}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	tasks := &fakeTasks{tasks: map[string]*v1.Task{}}
	bus := NewBus(store, tasks, newTestLogger())

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := bus.SubscribeExecution(subCtx, taskID, execID, 0)
	if err != nil {
		t.Fatalf("SubscribeExecution failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("channel closed early at replay event %d", i)
			}
			if ev.Seq != int64(i+1) {
				t.Fatalf("expected seq %d, got %d", i+1, ev.Seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replay event %d", i)
		}
	}

	if _, err := store.Append(ctx, &v1.ExecutionEvent{ExecutionID: execID, TaskID: taskID, Kind: v1.EventProgress, Progress: &v1.ProgressPayload{Message: "live"}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("channel closed before live event")
		}
		if ev.Seq != 4 {
			t.Fatalf("expected live seq 4, got %d", ev.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestSubscribeExecution_DropsSlowSubscriberWithoutBlocking(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	execID, taskID := "exec-2", "task-2"
	seedExecution(t, store, execID, taskID)

	tasks := &fakeTasks{tasks: map[string]*v1.Task{}}
	bus := &Bus{store: store, tasks: tasks, bufferSize: 1, log: newTestLogger()}

	events, err := bus.SubscribeExecution(ctx, taskID, execID, 0)
	if err != nil {
		t.Fatalf("SubscribeExecution failed: %v", err)
	}

	// Append far more events than the tiny buffer can hold without ever
	// reading from `events`; Append must not block on the subscriber.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if _, err := store.Append(ctx, &v1.ExecutionEvent{ExecutionID: execID, TaskID: taskID, Kind: v1.EventProgress, Progress: &v1.ProgressPayload{Message: "tick"}}); err != nil {
				t.Errorf("Append failed: %v", err)
				return
			}
		}
		if _, err := store.Append(ctx, &v1.ExecutionEvent{ExecutionID: execID, TaskID: taskID, Kind: v1.EventSessionEnded, SessionEnded: &v1.SessionEndedPayload{FinalState: v1.ExecCompleted}}); err != nil {
			t.Errorf("Append failed: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}

	// The subscriber channel must eventually close (dropped, not hung).
	closed := false
	for i := 0; i < 50 && !closed; i++ {
		select {
		case _, ok := <-events:
			if !ok {
				closed = true
			}
		case <-time.After(100 * time.Millisecond):
		}
	}
	if !closed {
		t.Fatal("expected subscriber channel to be closed after overflow")
	}
}
