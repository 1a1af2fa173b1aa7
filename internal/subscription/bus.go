// Package subscription implements the Subscription Bus: it
// multiplexes an execution's live event stream to however many clients
// are watching a task, merging historical replay with the live feed on
// demand. The replay-then-follow primitive itself lives in
// internal/eventlog.Store.TailSince; this package adds the task->current-
// execution resolution, the per-subscriber bounded buffer, and a
// drop-on-overflow backpressure policy.
package subscription

import (
	"context"

	v1 "github.com/kandev/kandev/pkg/api/v1"

	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/errors"
	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/eventlog"
)

// DefaultBufferSize is the bounded per-subscriber buffer size.
const DefaultBufferSize = 1024

// TaskLookup resolves a task's current execution id, the only piece of
// the Task Store the bus needs. Satisfied by *task/service.Service.
type TaskLookup interface {
	GetTask(ctx context.Context, id string) (*v1.Task, error)
}

// Bus is the Subscription Bus.
type Bus struct {
	store      eventlog.Store
	tasks      TaskLookup
	bufferSize int
	log        *logger.Logger
}

// NewBus constructs a Bus over store (the Event Log) and tasks (the Task
// Store lookup), using DefaultBufferSize for new subscriptions.
func NewBus(store eventlog.Store, tasks TaskLookup, log *logger.Logger) *Bus {
	return &Bus{store: store, tasks: tasks, bufferSize: DefaultBufferSize, log: log}
}

// Subscribe resolves taskId's current execution, opens a tail reader at
// sinceSeq, and returns a channel that first replays persisted events
// then switches to live delivery, closing once the execution reaches a
// terminal state or ctx is cancelled. A subscriber that cannot keep up is
// dropped (its channel closed) rather than stalling the engine; it is
// expected to reconnect with its last-seen seq.
//
// If the task has never been executed, the returned channel is closed
// immediately with no events.
func (b *Bus) Subscribe(ctx context.Context, taskID string, sinceSeq int64) (<-chan *v1.ExecutionEvent, error) {
	task, err := b.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	executionID := ""
	if task.CurrentExecutionID != nil {
		executionID = *task.CurrentExecutionID
	} else {
		// currentExecutionId is cleared once a run ends; replaying the
		// most recent run is still this call's contract (finite, since
		// that run is terminal).
		exec, err := b.store.CurrentExecution(ctx, taskID)
		if err != nil {
			return nil, errors.IOError("resolve current execution", err)
		}
		if exec != nil {
			executionID = exec.ID
		}
	}

	if executionID == "" {
		out := make(chan *v1.ExecutionEvent, b.bufferSize)
		close(out)
		return out, nil
	}

	return b.SubscribeExecution(ctx, taskID, executionID, sinceSeq)
}

// SubscribeExecution subscribes directly to a known execution id,
// bypassing the task->current-execution lookup. Used by REST handlers
// that already hold an executionId (e.g. resuming a specific historical
// run's live tail) and by Subscribe itself.
func (b *Bus) SubscribeExecution(ctx context.Context, taskID, executionID string, sinceSeq int64) (<-chan *v1.ExecutionEvent, error) {
	tailCtx, cancel := context.WithCancel(ctx)
	src, err := b.store.TailSince(tailCtx, executionID, sinceSeq)
	if err != nil {
		cancel()
		return nil, errors.IOError("tail execution events", err)
	}

	out := make(chan *v1.ExecutionEvent, b.bufferSize)
	go b.pump(taskID, executionID, src, out, cancel)
	return out, nil
}

// pump copies src into out, dropping the subscriber (closing out without
// draining further) the instant out's buffer is full, so a slow consumer
// never blocks the Event Log's single writer goroutine for an execution:
// src itself is already buffered upstream by TailSince, and pump only
// ever adds a second, subscriber-owned buffer on top of it. On drop it
// cancels tailCtx so the TailSince goroutine feeding src (blocked on
// `out <- ev` with only ctx.Done() as an escape) actually exits instead
// of leaking until the caller's own ctx is cancelled.
func (b *Bus) pump(taskID, executionID string, src <-chan *v1.ExecutionEvent, out chan<- *v1.ExecutionEvent, cancel context.CancelFunc) {
	defer cancel()
	defer close(out)
	dropped := 0
	for ev := range src {
		select {
		case out <- ev:
		default:
			dropped++
			b.log.Warn("subscriber dropped: buffer overflow",
				zap.String("task_id", taskID),
				zap.String("execution_id", executionID),
				zap.Int64("seq", ev.Seq),
				zap.Int("dropped_total", dropped),
			)
			return
		}
	}
}
