// Package adapter defines the uniform interface over the external agent
// CLIs (OpenCode, Claude Code, Codex, Gemini CLI): start a process, submit
// a prompt, consume a raw event stream, abort. Concrete transports live in
// the opencode and cli subpackages; the Execution Engine only ever
// talks to the Adapter/Handle interfaces defined here.
package adapter

import (
	"context"
	"fmt"

	"github.com/kandev/kandev/internal/common/errors"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// RawAgentEvent is one item off a Handle's event stream. Exactly one of
// Progress or AgentEvent is set; adapters emit Progress for coarse-grained
// status narration and AgentEvent for the structured agentEvent kinds the
// Execution Engine assigns a sequence number and appends to the Event Log.
type RawAgentEvent struct {
	Progress   *v1.ProgressPayload
	AgentEvent *v1.AgentEventPayload
}

// Handle is a running agent process. Events closes when the underlying
// process exits, whether cleanly or not; Err reports the reason once
// Events has closed (nil if the process ended because the agent itself
// reported completion).
type Handle interface {
	Events() <-chan RawAgentEvent
	Err() error
	// Alive reports whether the adapter still believes the process is
	// running. It does not block; it reflects the last observed state.
	Alive() bool
}

// Adapter drives one agent family. A new Adapter value (or a fresh call to
// Start) is used per execution; adapters are not reused across executions.
type Adapter interface {
	// Start launches the agent with cwd=workingDir and the given extra
	// environment variables, and blocks until the agent reports itself
	// ready or the bounded warm-up period elapses. Returns
	// ErrStartFailed on failure.
	Start(ctx context.Context, workingDir string, env map[string]string) (Handle, error)

	// SubmitPrompt delivers the prompt once the handle is warm. At most
	// one prompt is ever submitted per handle for CLI-style adapters; a
	// second call returns ErrAlreadySubmitted. OpenCode's session-based
	// transport treats this as starting the one and only turn for the
	// session backing the handle.
	SubmitPrompt(ctx context.Context, h Handle, promptText string, model string) error

	// Abort asks the agent to stop, waiting up to an abort-grace period
	// for a clean exit before force-killing the process.
	Abort(ctx context.Context, h Handle) error
}

// InputSender is implemented by adapters whose transport can accept
// mid-run input after the prompt has been submitted (the line-oriented
// CLI adapters write further lines to the agent's stdin). The Execution
// Engine type-asserts for it; adapters without one simply cause
// sendInput to report "not delivered".
type InputSender interface {
	SendInput(ctx context.Context, h Handle, text string) error
}

// ErrStartFailed reports that the agent binary/process could not be
// launched, or did not signal readiness within the warm-up window.
func ErrStartFailed(reason string) error {
	return errors.AdapterError(fmt.Sprintf("agent start failed: %s", reason), nil)
}

// ErrNotReady reports SubmitPrompt called before the handle signalled
// readiness.
func ErrNotReady() error {
	return errors.AdapterError("adapter not ready", nil)
}

// ErrAlreadySubmitted reports a second SubmitPrompt on a handle that only
// accepts one prompt per process lifetime.
func ErrAlreadySubmitted() error {
	return errors.AdapterError("prompt already submitted on this handle", nil)
}

// ErrStalled reports that a handle produced no events for longer than the
// configured idle timeout.
func ErrStalled() error {
	return errors.AdapterError("adapter stalled: no events within idle timeout", nil)
}

// ErrCrashed wraps an unexpected process exit.
func ErrCrashed(err error) error {
	return errors.AdapterError("adapter crashed", err)
}
