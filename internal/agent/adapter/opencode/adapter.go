package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kandev/kandev/internal/agent/adapter"
	"github.com/kandev/kandev/internal/agent/docker"
	"github.com/kandev/kandev/internal/agent/registry"
	"github.com/kandev/kandev/internal/common/logger"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Adapter drives OpenCode in HTTP-server mode.
type Adapter struct {
	binary     string
	docker     *docker.Client
	registry   *registry.Registry
	useSandbox bool
	warmup     time.Duration
	idle       time.Duration
	abortGrace time.Duration
	log        *logger.Logger
}

// New constructs an OpenCode adapter. dockerClient/reg may be nil when
// sandbox is false.
func New(binary string, dockerClient *docker.Client, reg *registry.Registry, sandbox bool, warmup, idle, abortGrace time.Duration, log *logger.Logger) *Adapter {
	if binary == "" {
		binary = "opencode"
	}
	return &Adapter{
		binary:     binary,
		docker:     dockerClient,
		registry:   reg,
		useSandbox: sandbox,
		warmup:     warmup,
		idle:       idle,
		abortGrace: abortGrace,
		log:        log,
	}
}

// handle tracks one running OpenCode server + session for the lifetime
// of one execution.
type handle struct {
	proc      serverProcess
	client    *httpClient
	sessionID string
	events    chan adapter.RawAgentEvent
	submitted atomic.Bool
	alive     atomic.Bool

	partsMu sync.Mutex
	parts   map[string]string // partID -> cumulative text already emitted

	errMu sync.Mutex
	err   error
}

func (h *handle) Events() <-chan adapter.RawAgentEvent { return h.events }
func (h *handle) Alive() bool                          { return h.alive.Load() }
func (h *handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

func (h *handle) setErr(err error) {
	h.errMu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.errMu.Unlock()
}

func (a *Adapter) Start(ctx context.Context, workingDir string, env map[string]string) (adapter.Handle, error) {
	startCtx, cancel := context.WithTimeout(ctx, a.warmup)
	defer cancel()

	port, err := randomPort()
	if err != nil {
		return nil, adapter.ErrStartFailed(err.Error())
	}
	password, err := randomPassword()
	if err != nil {
		return nil, adapter.ErrStartFailed(err.Error())
	}

	var proc serverProcess
	if a.useSandbox {
		proc, err = launchSandboxed(startCtx, a.docker, a.registry, port, password, workingDir, env)
	} else {
		// The local server must outlive Start: launched on the caller's
		// ctx, not the warm-up ctx, whose expiry would kill it. The
		// warm-up bound is enforced by waitHealthy below instead.
		proc, err = launchLocal(ctx, a.binary, port, password, workingDir, env)
	}
	if err != nil {
		return nil, adapter.ErrStartFailed(err.Error())
	}

	client := newHTTPClient(fmt.Sprintf("http://127.0.0.1:%d", port), password)
	if err := client.waitHealthy(startCtx); err != nil {
		_ = proc.Stop(context.Background(), false)
		return nil, adapter.ErrStartFailed(fmt.Sprintf("liveness check failed: %v", err))
	}

	sessionID, err := client.createSession(startCtx)
	if err != nil {
		_ = proc.Stop(context.Background(), false)
		return nil, adapter.ErrStartFailed(fmt.Sprintf("create session: %v", err))
	}

	h := &handle{
		proc:      proc,
		client:    client,
		sessionID: sessionID,
		events:    make(chan adapter.RawAgentEvent, 256),
		parts:     make(map[string]string),
	}
	h.alive.Store(true)

	go a.consume(h)
	return h, nil
}

// consume opens the session's SSE event stream and translates each
// envelope into a RawAgentEvent, watching an idle timer the same way the
// cli adapter does.
func (a *Adapter) consume(h *handle) {
	defer close(h.events)
	defer h.alive.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := h.client.openEventStream(ctx, h.sessionID)
	if err != nil {
		h.setErr(adapter.ErrCrashed(err))
		return
	}
	defer stream.Close()

	raw := make(chan eventEnvelope, 64)
	readErrCh := make(chan error, 1)
	go func() { readErrCh <- readSSEEvents(stream, raw) }()

	idleTimer := time.NewTimer(a.idle)
	defer idleTimer.Stop()

	for {
		select {
		case env, ok := <-raw:
			if !ok {
				if err := <-readErrCh; err != nil {
					h.setErr(adapter.ErrCrashed(err))
				}
				return
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(a.idle)

			if ev, ok := h.translate(env); ok {
				h.events <- ev
				if ev.AgentEvent != nil && ev.AgentEvent.Kind == v1.AgentEventCompleted {
					return
				}
			}

		case <-idleTimer.C:
			a.log.Warn("opencode adapter idle timeout")
			h.setErr(adapter.ErrStalled())
			_ = h.proc.Stop(context.Background(), false)
			return
		}
	}
}

// translate converts one SSE envelope into a RawAgentEvent. For
// message.part.updated it reconstructs the incremental delta from the
// cumulative text snapshot: the previously seen text for this part-id
// is tracked, and only the new suffix is surfaced. When the new
// text is not a superset of what was already emitted (the rare
// non-prefix case), the whole new text is emitted as-is rather than
// attempting a reconciliation diff — see DESIGN.md's Open Question entry.
func (h *handle) translate(env eventEnvelope) (adapter.RawAgentEvent, bool) {
	switch env.Type {
	case eventTextPart:
		var props textPartProperties
		if err := json.Unmarshal(env.Properties, &props); err != nil {
			return adapter.RawAgentEvent{}, false
		}
		h.partsMu.Lock()
		prevText := h.parts[props.PartID]
		var delta string
		if strings.HasPrefix(props.Text, prevText) {
			delta = props.Text[len(prevText):]
		} else {
			delta = props.Text
		}
		h.parts[props.PartID] = props.Text
		h.partsMu.Unlock()
		if delta == "" {
			return adapter.RawAgentEvent{}, false
		}
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventMessage, Content: delta}}, true

	case eventToolStart:
		var props toolStartProperties
		if err := json.Unmarshal(env.Properties, &props); err != nil {
			return adapter.RawAgentEvent{}, false
		}
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventToolCall, Tool: props.Tool, Args: props.Args}}, true

	case eventToolDone:
		var props toolDoneProperties
		if err := json.Unmarshal(env.Properties, &props); err != nil {
			return adapter.RawAgentEvent{}, false
		}
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventToolCall, Tool: props.Tool, Result: props.Result}}, true

	case eventIdle:
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventCompleted, Success: true}}, true

	case eventError:
		var props errorProperties
		if err := json.Unmarshal(env.Properties, &props); err != nil {
			return adapter.RawAgentEvent{}, false
		}
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventError, Message: props.Message}}, true

	default:
		return adapter.RawAgentEvent{}, false
	}
}

func (a *Adapter) SubmitPrompt(ctx context.Context, hnd adapter.Handle, promptText string, model string) error {
	h, ok := hnd.(*handle)
	if !ok {
		return fmt.Errorf("opencode adapter: unexpected handle type %T", hnd)
	}
	if !h.alive.Load() {
		return adapter.ErrNotReady()
	}
	if !h.submitted.CompareAndSwap(false, true) {
		return adapter.ErrAlreadySubmitted()
	}
	return h.client.postPrompt(ctx, h.sessionID, promptText, model)
}

func (a *Adapter) Abort(ctx context.Context, hnd adapter.Handle) error {
	h, ok := hnd.(*handle)
	if !ok {
		return fmt.Errorf("opencode adapter: unexpected handle type %T", hnd)
	}
	_ = h.client.abort(ctx, h.sessionID)

	graceCtx, cancel := context.WithTimeout(ctx, a.abortGrace)
	defer cancel()

	done := make(chan struct{})
	go func() { h.proc.Wait(); close(done) }()

	select {
	case <-done:
		return nil
	case <-graceCtx.Done():
		return h.proc.Stop(ctx, false)
	}
}

