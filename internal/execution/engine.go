// Package execution implements the Execution Engine: the state
// machine that owns one Execution per active task, composing the Agent
// Adapter, Worktree Manager, Host Registry and Event Log
// into a single normalised event stream. Its active-task tracking
// follows a tracking-map shape (one entry per active task); its dispatch
// queue in queue.go is a FIFO-only adaptation of a priority-heap queue
// design, since this domain has no priority/preemption to model. One
// goroutine ("worker") drives each active execution; engine mutations are
// serialised per task via keyedMutex.
package execution

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/kandev/kandev/internal/agent/adapter"
	"github.com/kandev/kandev/internal/agent/adapter/factory"
	"github.com/kandev/kandev/internal/agent/credentials"
	"github.com/kandev/kandev/internal/common/errors"
	"github.com/kandev/kandev/internal/common/logger"
	"github.com/kandev/kandev/internal/eventlog"
	"github.com/kandev/kandev/internal/events/bus"
	"github.com/kandev/kandev/internal/hostregistry"
	"github.com/kandev/kandev/internal/task/service"
	"github.com/kandev/kandev/internal/worktree"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Config bundles the Execution Engine's tunables, sourced from
// config.ExecutionConfig / config.WorktreeConfig by Provide.
type Config struct {
	DispatchWaitTimeout   time.Duration
	AbortGrace            time.Duration
	WorktreeCreateTimeout time.Duration
}

// AdapterFactory builds the concrete Agent Adapter for an agent type.
// Satisfied by *factory.Factory in production; tests substitute a fake
// that never touches Docker or real subprocesses.
type AdapterFactory interface {
	New(agentType v1.AgentType) (adapter.Adapter, error)
}

var _ AdapterFactory = (*factory.Factory)(nil)

// Dependencies are the components the Execution Engine composes.
type Dependencies struct {
	Store        eventlog.Store
	Hosts        *hostregistry.Registry
	Worktrees    *worktree.Manager
	Factory      AdapterFactory
	Tasks        *service.Service
	Bus          bus.EventBus
	Credentials  credentials.Provider
	RepoResolver RepoPathResolver
	Logger       *logger.Logger
}

// run is the live state of one active execution, held for the lifetime
// of its worker goroutine.
type run struct {
	mu        sync.Mutex
	exec      *v1.Execution
	task      *v1.Task
	agentType v1.AgentType
	baseBranch string
	model      string
	hostID     string

	adapter   adapter.Adapter
	handle    adapter.Handle
	cancelFn  context.CancelFunc
	cancelled bool
}

func (r *run) requestCancel() (context.CancelFunc, adapter.Adapter, adapter.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	return r.cancelFn, r.adapter, r.handle
}

func (r *run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *run) setAdapter(ad adapter.Adapter, h adapter.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapter = ad
	r.handle = h
}

func (r *run) setCancelFn(fn context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelFn = fn
}

// Engine is the Execution Engine.
type Engine struct {
	cfg  Config
	deps Dependencies
	log  *logger.Logger

	taskLocks *keyedMutex
	dispatch  *dispatchQueue

	mu     sync.Mutex
	active map[string]*run // taskID -> run, present only while non-terminal
}

// NewEngine constructs an Engine over deps.
func NewEngine(cfg Config, deps Dependencies) *Engine {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		log:       log.WithFields(zap.String("component", "execution-engine")),
		taskLocks: newKeyedMutex(),
		dispatch:  newDispatchQueue(),
		active:    make(map[string]*run),
	}
}

// Recover runs the Event Log's crash-recovery pass and reconciles the
// owning tasks' kanban projection for every execution it marks failed.
// Must be called once at gateway startup before any startExecution call.
func (e *Engine) Recover(ctx context.Context) error {
	failed, err := e.deps.Store.Recover(ctx)
	if err != nil {
		return errors.IOError("event log recovery", err)
	}
	for _, exec := range failed {
		if _, err := e.deps.Tasks.ApplyExecutionTransition(ctx, exec.TaskID, nil, v1.KanbanTodo); err != nil {
			e.log.Error("failed to reconcile task after crash recovery",
				zap.String("task_id", exec.TaskID), zap.String("execution_id", exec.ID), zap.Error(err))
		}
	}
	return nil
}

// StartExecutionRequest carries the optional overrides for a new run;
// zero values fall back to the task's own defaults.
type StartExecutionRequest struct {
	AgentType    v1.AgentType
	BaseBranch   string
	Model        string
	ExplicitHost string
}

// ErrAlreadyExecuting is returned when the task already has a
// non-terminal execution.
var ErrAlreadyExecuting = errors.PreconditionFailed("task is already executing")

// StartExecution synchronously reserves a host and creates the
// Execution record, then drives the run to completion on its own
// goroutine.
func (e *Engine) StartExecution(ctx context.Context, taskID string, req StartExecutionRequest) (string, error) {
	unlock := e.taskLocks.Lock(taskID)
	defer unlock()

	task, err := e.deps.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}

	if task.CurrentExecutionID != nil {
		if cur, err := e.deps.Store.GetExecution(ctx, *task.CurrentExecutionID); err == nil && cur != nil && !cur.State.Terminal() {
			return "", ErrAlreadyExecuting
		}
	}

	agentType := req.AgentType
	if agentType == "" {
		agentType = task.AgentType
	}
	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = task.BaseBranch
	}
	model := req.Model
	if model == "" {
		model = task.Model
	}

	execID := uuid.New().String()

	host, err := e.selectHostWithWait(ctx, agentType, req.ExplicitHost, taskID)
	if err != nil {
		return "", err
	}

	exec := &v1.Execution{
		ID:        execID,
		TaskID:    taskID,
		HostID:    host.ID,
		AgentType: agentType,
		State:     "",
		CreatedAt: time.Now().UTC(),
	}

	if err := e.deps.Store.CreateExecution(ctx, exec, previewText(task.Description, task.Title)); err != nil {
		e.releaseHost(host.ID, taskID)
		// An unreachable event log means no new executions can be
		// accepted at all, surfaced as 503 rather than a generic 500.
		return "", errors.ServiceUnavailable("event log")
	}

	r := &run{exec: exec, task: task, agentType: agentType, baseBranch: baseBranch, model: model, hostID: host.ID}

	if !e.transition(ctx, r, v1.ExecInitializing) {
		e.releaseHost(host.ID, taskID)
		return "", errors.IOError("append initializing event", nil)
	}

	if _, err := e.deps.Tasks.ApplyExecutionTransition(ctx, taskID, &execID, v1.KanbanDoing); err != nil {
		e.log.Error("failed to mark task doing", zap.String("task_id", taskID), zap.Error(err))
	}

	e.mu.Lock()
	e.active[taskID] = r
	e.mu.Unlock()

	go e.drive(r)

	return execID, nil
}

// AbortExecution requests cancellation of the task's current execution.
// Idempotent: a task with no active (non-terminal) execution is a no-op.
func (e *Engine) AbortExecution(ctx context.Context, taskID string) error {
	e.mu.Lock()
	r, ok := e.active[taskID]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	cancelFn, ad, handle := r.requestCancel()
	if cancelFn != nil {
		cancelFn()
	}
	if ad != nil && handle != nil {
		abortCtx, cancel := context.WithTimeout(context.Background(), e.cfg.AbortGrace)
		defer cancel()
		if err := ad.Abort(abortCtx, handle); err != nil {
			e.log.Warn("adapter abort returned an error", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	return nil
}

// SendInput forwards a runtime input to the active adapter, best-effort:
// it reports false when no execution is active or the adapter's transport
// has no mid-run input channel (adapter.InputSender is optional).
func (e *Engine) SendInput(ctx context.Context, taskID, text string) (bool, error) {
	e.mu.Lock()
	r, ok := e.active[taskID]
	e.mu.Unlock()
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	ad, handle := r.adapter, r.handle
	r.mu.Unlock()
	if ad == nil || handle == nil {
		return false, nil
	}

	sender, ok := ad.(adapter.InputSender)
	if !ok {
		return false, nil
	}
	if err := sender.SendInput(ctx, handle, text); err != nil {
		e.log.Warn("failed to forward input to adapter", zap.String("task_id", taskID), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// CleanupWorktree destroys the worktree of the task's terminal
// execution; rejected while a run is still in flight. Idempotent.
func (e *Engine) CleanupWorktree(ctx context.Context, taskID string) (bool, error) {
	task, err := e.deps.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}

	// currentExecutionId is cleared once a run ends, so fall back to the
	// most recent execution on record — cleanup after completion is the
	// normal case, not the exception.
	var exec *v1.Execution
	if task.CurrentExecutionID != nil {
		exec, err = e.deps.Store.GetExecution(ctx, *task.CurrentExecutionID)
	} else {
		exec, err = e.deps.Store.CurrentExecution(ctx, taskID)
	}
	if err != nil {
		return false, errors.IOError("get execution", err)
	}
	if exec == nil {
		return true, nil
	}
	if exec.State == v1.ExecCleaningUp {
		return true, nil
	}
	if !exec.State.Terminal() {
		return false, errors.PreconditionFailed("execution is not terminal")
	}

	if err := e.deps.Worktrees.Destroy(ctx, exec.ID); err != nil {
		return false, errors.IOError("destroy worktree", err)
	}

	old := exec.State
	exec.State = v1.ExecCleaningUp
	if err := e.deps.Store.UpdateExecution(ctx, exec); err != nil {
		return false, errors.IOError("persist cleanup state", err)
	}

	ev := &v1.ExecutionEvent{
		Kind:          v1.EventStatusChanged,
		StatusChanged: &v1.StatusChangedPayload{OldState: old, NewState: v1.ExecCleaningUp},
	}
	if _, err := e.appendRaw(ctx, exec, taskID, ev); err != nil {
		e.log.Error("failed to append cleanup event", zap.String("execution_id", exec.ID), zap.Error(err))
	}

	return true, nil
}

// drive runs the full lifecycle of one execution on its own goroutine:
// worktree, adapter start, prompt, event consumption, session end.
func (e *Engine) drive(r *run) {
	ctx, cancel := context.WithCancel(context.Background())
	r.setCancelFn(cancel)
	defer cancel()

	finalState, finalReason, recorded := e.runWorktreeAndAgent(ctx, r)
	// The run ctx is cancelled on abort; the final events and snapshot
	// must still persist, so end gets a context that survives it.
	e.end(context.WithoutCancel(ctx), r, finalState, finalReason, recorded)
}

// runWorktreeAndAgent's third return value reports whether an
// agent_event already on the log explains finalReason (a completed or
// error agent event), so end() knows whether it still owes the log a
// synthetic agent_event{error} before session_ended.
func (e *Engine) runWorktreeAndAgent(ctx context.Context, r *run) (v1.ExecutionState, string, bool) {
	if !e.transition(ctx, r, v1.ExecCreatingWorktree) {
		return v1.ExecFailed, "failed to persist creating_worktree transition", false
	}

	repoPath, err := e.deps.RepoResolver.RepoPath(r.task.ProjectID)
	if err != nil {
		return v1.ExecFailed, "worktree error: " + err.Error(), false
	}

	wtCtx, wtCancel := context.WithTimeout(ctx, e.cfg.WorktreeCreateTimeout)
	wt, err := e.deps.Worktrees.Create(wtCtx, worktree.CreateRequest{
		ExecutionID:    r.exec.ID,
		TaskID:         r.task.ID,
		TaskTitle:      r.task.Title,
		ProjectID:      r.task.ProjectID,
		RepositoryPath: repoPath,
		BaseBranch:     r.baseBranch,
	})
	wtCancel()
	if err != nil {
		if r.isCancelled() {
			return v1.ExecCancelled, "", false
		}
		return v1.ExecFailed, "worktree error: " + err.Error(), false
	}

	r.exec.WorktreePath = wt.Path
	r.exec.BranchName = wt.Branch
	e.append(ctx, r, &v1.ExecutionEvent{
		Kind:           v1.EventSessionStarted,
		SessionStarted: &v1.SessionStartedPayload{WorktreePath: wt.Path, BranchName: wt.Branch},
	})

	if r.isCancelled() {
		_ = e.deps.Worktrees.Destroy(context.Background(), r.exec.ID)
		return v1.ExecCancelled, "", false
	}

	if !e.transition(ctx, r, v1.ExecStarting) {
		_ = e.deps.Worktrees.Destroy(context.Background(), r.exec.ID)
		return v1.ExecFailed, "failed to persist starting transition", false
	}

	ad, err := e.deps.Factory.New(r.agentType)
	if err != nil {
		return v1.ExecFailed, "adapter init failed: " + err.Error(), false
	}

	handle, err := ad.Start(ctx, wt.Path, e.buildAgentEnv(ctx))
	if err != nil {
		return v1.ExecFailed, "adapter start failed: " + err.Error(), false
	}
	r.setAdapter(ad, handle)

	prompt := r.task.Description
	if prompt == "" {
		prompt = r.task.Title
	}
	if err := ad.SubmitPrompt(ctx, handle, prompt, r.model); err != nil {
		return v1.ExecFailed, "submit prompt failed: " + err.Error(), false
	}

	if r.isCancelled() {
		_ = ad.Abort(ctx, handle)
	}

	if !e.transition(ctx, r, v1.ExecRunning) {
		return v1.ExecFailed, "failed to persist running transition", false
	}

	return e.consumeEvents(ctx, r, ad, handle)
}

// consumeEvents implements step 9 of the normal-run algorithm: normalise,
// append, publish every raw adapter event, and decide the final state.
// Once finalState is decided as completed, later agent_event entries are
// still appended to the log but never flip the decision back to failed:
// a crash observed after a completed{success=true} is logged and
// ignored, not treated as the run's outcome.
func (e *Engine) consumeEvents(ctx context.Context, r *run, ad adapter.Adapter, handle adapter.Handle) (v1.ExecutionState, string, bool) {
	var finalState v1.ExecutionState
	var finalReason string
	var recorded bool

	events := handle.Events()
loop:
	for {
		select {
		case raw, ok := <-events:
			if !ok {
				break loop
			}
			switch {
			case raw.Progress != nil:
				e.append(ctx, r, &v1.ExecutionEvent{Kind: v1.EventProgress, Progress: raw.Progress})
			case raw.AgentEvent != nil:
				e.append(ctx, r, &v1.ExecutionEvent{Kind: v1.EventAgentEvent, AgentEvent: raw.AgentEvent})
				if finalState == v1.ExecCompleted {
					// Already decided completed; this is a trailing
					// event (e.g. a post-completion crash) logged above
					// and otherwise ignored.
					continue
				}
				switch {
				case raw.AgentEvent.Kind == v1.AgentEventCompleted && raw.AgentEvent.Success:
					finalState = v1.ExecCompleted
					finalReason = ""
					recorded = true
				case raw.AgentEvent.Kind == v1.AgentEventCompleted && !raw.AgentEvent.Success:
					finalState = v1.ExecFailed
					finalReason = raw.AgentEvent.Summary
					recorded = true
				case raw.AgentEvent.Kind == v1.AgentEventError && !raw.AgentEvent.Recoverable:
					finalState = v1.ExecFailed
					finalReason = raw.AgentEvent.Message
					recorded = true
				}
			}
		case <-ctx.Done():
			break loop
		}
	}

	if r.isCancelled() {
		return v1.ExecCancelled, "", false
	}

	if finalState == "" {
		// Stream ended without a completed/fatal-error event.
		if err := handle.Err(); err != nil {
			return v1.ExecFailed, err.Error(), false
		}
		return v1.ExecFailed, "agent ended without completion", false
	}
	return finalState, finalReason, recorded
}

// end implements the remainder of the normal-run algorithm: append
// session_ended, release the host, update the task's kanban projection,
// and retire the run. recorded reports whether the terminal reason is
// already backed by an agent_event on the log; when it isn't (a
// worktree/adapter/IO failure that never went through consumeEvents'
// normal agent_event path), end appends a synthetic
// agent_event{error{...}} before session_ended so a replay consumer can
// see why the run failed.
func (e *Engine) end(ctx context.Context, r *run, final v1.ExecutionState, reason string, recorded bool) {
	if r.exec.State != final {
		e.transition(ctx, r, final)
	}
	r.exec.Error = reason

	startedAt := r.exec.CreatedAt
	if r.exec.StartedAt != nil {
		startedAt = *r.exec.StartedAt
	}
	durationMs := time.Since(startedAt).Milliseconds()
	now := time.Now().UTC()
	r.exec.EndedAt = &now

	if final == v1.ExecFailed && !recorded && reason != "" {
		e.append(ctx, r, &v1.ExecutionEvent{
			Kind: v1.EventAgentEvent,
			AgentEvent: &v1.AgentEventPayload{
				Kind:        v1.AgentEventError,
				Message:     reason,
				Recoverable: false,
			},
		})
	}

	e.append(ctx, r, &v1.ExecutionEvent{
		Kind:         v1.EventSessionEnded,
		SessionEnded: &v1.SessionEndedPayload{FinalState: final, DurationMs: durationMs},
	})

	if err := e.deps.Store.UpdateExecution(ctx, r.exec); err != nil {
		e.log.Error("failed to persist final execution snapshot", zap.String("execution_id", r.exec.ID), zap.Error(err))
	}

	e.releaseHost(r.hostID, r.task.ID)

	kanban := v1.KanbanTodo
	if final == v1.ExecCompleted {
		kanban = v1.KanbanDone
	}
	if _, err := e.deps.Tasks.ApplyExecutionTransition(ctx, r.task.ID, nil, kanban); err != nil {
		e.log.Error("failed to reconcile task kanban projection", zap.String("task_id", r.task.ID), zap.Error(err))
	}

	e.mu.Lock()
	delete(e.active, r.task.ID)
	e.mu.Unlock()
}

// transition appends a status_changed event moving r.exec from its
// current state to newState.
func (e *Engine) transition(ctx context.Context, r *run, newState v1.ExecutionState) bool {
	old := r.exec.State
	_, err := e.append(ctx, r, &v1.ExecutionEvent{
		Kind:          v1.EventStatusChanged,
		StatusChanged: &v1.StatusChangedPayload{OldState: old, NewState: newState},
	})
	return err == nil
}

// append assigns ev to r's execution and task, persists it via the Event
// Log, updates the in-memory Execution snapshot, and publishes it to the
// Subscription Bus.
func (e *Engine) append(ctx context.Context, r *run, ev *v1.ExecutionEvent) (*v1.ExecutionEvent, error) {
	ev, err := e.appendRaw(ctx, r.exec, r.task.ID, ev)
	if err != nil {
		e.log.Error("failed to append execution event", zap.String("execution_id", r.exec.ID), zap.Error(err))
		return nil, err
	}
	if ev.Kind == v1.EventStatusChanged {
		r.exec.State = ev.StatusChanged.NewState
		if ev.StatusChanged.NewState == v1.ExecRunning && r.exec.StartedAt == nil {
			now := time.Now().UTC()
			r.exec.StartedAt = &now
		}
	}
	return ev, nil
}

// appendRaw is the run-less primitive: persist ev against exec/taskID,
// keep exec.EventCount in sync, and fan it out on the bus.
func (e *Engine) appendRaw(ctx context.Context, exec *v1.Execution, taskID string, ev *v1.ExecutionEvent) (*v1.ExecutionEvent, error) {
	ev.ExecutionID = exec.ID
	ev.TaskID = taskID
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	seq, err := e.deps.Store.Append(ctx, ev)
	if err != nil {
		return nil, errors.IOError("append execution event", err)
	}
	ev.Seq = seq
	exec.EventCount = seq

	if err := e.deps.Store.UpdateExecution(ctx, exec); err != nil {
		e.log.Error("failed to persist execution snapshot", zap.String("execution_id", exec.ID), zap.Error(err))
	}

	data, err := json.Marshal(ev)
	if err != nil {
		e.log.Error("failed to marshal execution event", zap.Error(err))
		return ev, nil
	}
	if err := e.deps.Bus.Publish(bus.ExecutionEventSubject(exec.ID), data); err != nil {
		e.log.Error("failed to publish execution event", zap.String("execution_id", exec.ID), zap.Error(err))
	}
	return ev, nil
}

// selectHostWithWait selects a host for agentType, waiting on the FIFO
// dispatch queue (bounded by DispatchWaitTimeout) when every capable host
// is at capacity. An explicit host request, or an agentType no host at
// all supports, fails synchronously instead of queueing.
func (e *Engine) selectHostWithWait(ctx context.Context, agentType v1.AgentType, explicit, taskID string) (*v1.Host, error) {
	for {
		host, err := e.deps.Hosts.SelectHost(agentType, explicit)
		if err == nil {
			if rerr := e.deps.Hosts.Reserve(host.ID, taskID); rerr != nil {
				continue // lost the race to another starter; retry selection
			}
			return host, nil
		}

		if explicit != "" || !e.anyHostSupports(agentType) {
			return nil, err
		}

		w := e.dispatch.wait(taskID, string(agentType))
		select {
		case <-w.ready:
			continue
		case <-time.After(e.cfg.DispatchWaitTimeout):
			e.dispatch.cancel(w)
			return nil, err
		case <-ctx.Done():
			e.dispatch.cancel(w)
			return nil, ctx.Err()
		}
	}
}

func (e *Engine) anyHostSupports(agentType v1.AgentType) bool {
	for _, h := range e.deps.Hosts.List() {
		if h.Capabilities.Supports(agentType) {
			return true
		}
	}
	return false
}

// releaseHost releases a host's reservation and wakes any dispatch-queue
// waiters for agent types it supports.
func (e *Engine) releaseHost(hostID, taskID string) {
	host, getErr := e.deps.Hosts.Get(hostID)
	if err := e.deps.Hosts.Release(hostID, taskID); err != nil {
		e.log.Warn("failed to release host reservation", zap.String("host_id", hostID), zap.Error(err))
	}
	if getErr != nil {
		return
	}
	for _, a := range host.Capabilities.SupportedAgents {
		e.dispatch.wake(string(a))
	}
}

// buildAgentEnv resolves available credentials into the environment map
// passed to adapter.Start, so CLI agents (claude-code, codex, gemini-cli)
// inherit the API keys their subprocess needs.
func (e *Engine) buildAgentEnv(ctx context.Context) map[string]string {
	env := make(map[string]string)
	if e.deps.Credentials == nil {
		return env
	}
	keys, err := e.deps.Credentials.ListAvailable(ctx)
	if err != nil {
		e.log.Warn("failed to list available credentials", zap.Error(err))
		return env
	}
	for _, key := range keys {
		cred, err := e.deps.Credentials.GetCredential(ctx, key)
		if err != nil || cred == nil {
			continue
		}
		env[cred.Key] = cred.Value
	}
	return env
}

func previewText(primary, fallback string) string {
	v := primary
	if v == "" {
		v = fallback
	}
	const maxLen = 200
	r := []rune(v)
	if len(r) > maxLen {
		return string(r[:maxLen])
	}
	return v
}
