// Package cli implements the Agent Adapter for the agent families
// driven as a line-oriented stdout subprocess: Claude Code, Codex,
// Gemini CLI, and the bring-your-own custom agent. A single Adapter type
// is parameterised by a per-agent AgentSpec rather than one type per CLI,
// since the only difference between them is the binary invoked, its
// arguments, and the required environment variables — the
// line-recognition rules in rules.go are shared, since all of them follow
// the simpler pattern of a CLI subprocess whose stdout/stderr are
// line-streamed.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kandev/kandev/internal/agent/adapter"
	"github.com/kandev/kandev/internal/common/logger"
	v1 "github.com/kandev/kandev/pkg/api/v1"
	"go.uber.org/zap"
)

// AgentSpec names the binary and required environment for one CLI agent.
type AgentSpec struct {
	AgentType   v1.AgentType
	Binary      string
	Args        []string
	RequiredEnv []string
}

var Specs = map[v1.AgentType]AgentSpec{
	v1.AgentTypeClaudeCode: {AgentType: v1.AgentTypeClaudeCode, Binary: "claude-code", Args: []string{"--headless"}, RequiredEnv: []string{"ANTHROPIC_API_KEY"}},
	v1.AgentTypeCodex:      {AgentType: v1.AgentTypeCodex, Binary: "codex", Args: []string{"--headless"}, RequiredEnv: []string{"OPENAI_API_KEY"}},
	v1.AgentTypeGeminiCLI:  {AgentType: v1.AgentTypeGeminiCLI, Binary: "gemini", Args: []string{"--headless"}, RequiredEnv: []string{"GEMINI_API_KEY"}},
	// custom is a bring-your-own binary speaking the same line protocol;
	// the default name matches the sandbox image registered for it.
	v1.AgentTypeCustom: {AgentType: v1.AgentTypeCustom, Binary: "kandev-agent", RequiredEnv: []string{}},
}

// Adapter drives one line-oriented CLI agent process.
type Adapter struct {
	spec       AgentSpec
	launcher   Launcher
	dockerL    *DockerLauncher // non-nil when sandboxed launch is enabled
	useSandbox bool
	warmup     time.Duration
	idle       time.Duration
	abortGrace time.Duration
	log        *logger.Logger
}

// New constructs a CLI adapter for spec, using launcher for local
// subprocesses. If sandbox is true, dockerL.LaunchForAgent is used
// instead and launcher is ignored.
func New(spec AgentSpec, launcher Launcher, dockerL *DockerLauncher, sandbox bool, warmup, idle, abortGrace time.Duration, log *logger.Logger) *Adapter {
	return &Adapter{
		spec:       spec,
		launcher:   launcher,
		dockerL:    dockerL,
		useSandbox: sandbox,
		warmup:     warmup,
		idle:       idle,
		abortGrace: abortGrace,
		log:        log,
	}
}

// handle implements adapter.Handle for a CLI subprocess.
type handle struct {
	proc      process
	events    chan adapter.RawAgentEvent
	submitted atomic.Bool
	ready     atomic.Bool
	alive     atomic.Bool

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
	for _, k := range a.spec.RequiredEnv {
		if _, ok := env[k]; !ok {
			return nil, adapter.ErrStartFailed(fmt.Sprintf("missing required env var %s", k))
		}
	}

	cmd := append([]string{a.spec.Binary}, a.spec.Args...)
	procSpec := ProcessSpec{Command: cmd, WorkingDir: workingDir, Env: env}

	var proc process
	var err error
	if a.useSandbox && a.dockerL != nil {
		// The warm-up bound applies to the container pull/create/start
		// round trips; the running container itself is not tied to it.
		startCtx, cancel := context.WithTimeout(ctx, a.warmup)
		proc, err = a.dockerL.LaunchForAgent(startCtx, string(a.spec.AgentType), procSpec)
		cancel()
	} else {
		// The local subprocess must outlive Start: it is launched on the
		// caller's ctx (the run's lifetime), not a warm-up-bounded one
		// whose expiry would kill it. A pipe-based CLI is ready as soon
		// as exec succeeds, so there is nothing to wait out here.
		proc, err = a.launcher.Launch(ctx, procSpec)
	}
	if err != nil {
		return nil, adapter.ErrStartFailed(err.Error())
	}

	h := &handle{proc: proc, events: make(chan adapter.RawAgentEvent, 256)}
	h.alive.Store(true)
	h.ready.Store(true)

	go a.pump(h)
	return h, nil
}

// pump scans the process's stdout line by line, classifying each into a
// RawAgentEvent, and watches an idle timer that fires ErrStalled if the
// agent goes silent past the configured idle timeout.
func (a *Adapter) pump(h *handle) {
	defer close(h.events)
	defer h.alive.Store(false)

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(h.proc.Stdout())
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	idleTimer := time.NewTimer(a.idle)
	defer idleTimer.Stop()

	completed := false
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				waitErr := h.proc.Wait()
				if waitErr != nil && !completed {
					h.setErr(adapter.ErrCrashed(waitErr))
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
			ev := classifyLine(line)
			h.events <- ev
			if ev.AgentEvent != nil && ev.AgentEvent.Kind == v1.AgentEventCompleted {
				completed = true
				_ = h.proc.Stop(context.Background(), true)
			}

		case <-idleTimer.C:
			a.log.Warn("cli adapter idle timeout", zap.String("agent_type", string(a.spec.AgentType)))
			h.setErr(adapter.ErrStalled())
			_ = h.proc.Stop(context.Background(), false)
			return
		}
	}
}

func (a *Adapter) SubmitPrompt(ctx context.Context, hnd adapter.Handle, promptText string, model string) error {
	h, ok := hnd.(*handle)
	if !ok {
		return fmt.Errorf("cli adapter: unexpected handle type %T", hnd)
	}
	if !h.ready.Load() {
		return adapter.ErrNotReady()
	}
	if !h.submitted.CompareAndSwap(false, true) {
		return adapter.ErrAlreadySubmitted()
	}
	stdin := h.proc.Stdin()
	if stdin == nil {
		return fmt.Errorf("cli adapter: no stdin available")
	}
	_, err := stdin.Write([]byte(promptText + "\n"))
	return err
}

// SendInput writes a further line to the agent's stdin after the prompt.
// Whether the CLI actually consumes mid-run input is up to the agent; the
// write itself is best-effort per the sendInput contract.
func (a *Adapter) SendInput(ctx context.Context, hnd adapter.Handle, text string) error {
	h, ok := hnd.(*handle)
	if !ok {
		return fmt.Errorf("cli adapter: unexpected handle type %T", hnd)
	}
	if !h.alive.Load() {
		return fmt.Errorf("cli adapter: process has exited")
	}
	stdin := h.proc.Stdin()
	if stdin == nil {
		return fmt.Errorf("cli adapter: no stdin available")
	}
	_, err := stdin.Write([]byte(text + "\n"))
	return err
}

func (a *Adapter) Abort(ctx context.Context, hnd adapter.Handle) error {
	h, ok := hnd.(*handle)
	if !ok {
		return fmt.Errorf("cli adapter: unexpected handle type %T", hnd)
	}
	if err := h.proc.Stop(ctx, true); err != nil {
		a.log.Warn("graceful stop failed, forcing", zap.Error(err))
	}

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
