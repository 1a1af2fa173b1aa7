package cli

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/kandev/internal/agent/adapter"
	"github.com/kandev/kandev/internal/common/logger"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// catSpec drives `cat` as a stand-in agent: every line written to stdin
// comes straight back on stdout, which classifyLine surfaces as raw_output.
func catSpec() AgentSpec {
	return AgentSpec{AgentType: v1.AgentTypeCustom, Binary: "cat"}
}

func newCatAdapter() *Adapter {
	return New(catSpec(), NewLocalLauncher(), nil, false, 5*time.Second, time.Minute, time.Second, logger.Default())
}

func readEvent(t *testing.T, h adapter.Handle) adapter.RawAgentEvent {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return adapter.RawAgentEvent{}
	}
}

func TestAdapter_PromptAndInputRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newCatAdapter()

	h, err := a.Start(ctx, t.TempDir(), map[string]string{})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer a.Abort(ctx, h)

	if err := a.SubmitPrompt(ctx, h, "write a README", ""); err != nil {
		t.Fatalf("SubmitPrompt failed: %v", err)
	}
	ev := readEvent(t, h)
	if ev.AgentEvent == nil || ev.AgentEvent.Kind != v1.AgentEventRawOutput || ev.AgentEvent.Content != "write a README" {
		t.Fatalf("expected the prompt echoed back as raw_output, got %+v", ev)
	}

	// A second prompt on the same handle is rejected; mid-run input is not.
	if err := a.SubmitPrompt(ctx, h, "again", ""); err == nil {
		t.Fatal("expected second SubmitPrompt to fail")
	}
	if err := a.SendInput(ctx, h, "also add tests"); err != nil {
		t.Fatalf("SendInput failed: %v", err)
	}
	ev = readEvent(t, h)
	if ev.AgentEvent == nil || ev.AgentEvent.Content != "also add tests" {
		t.Fatalf("expected the input echoed back, got %+v", ev)
	}
}

func TestAdapter_StartRejectsMissingRequiredEnv(t *testing.T) {
	spec := catSpec()
	spec.RequiredEnv = []string{"SOME_REQUIRED_KEY"}
	a := New(spec, NewLocalLauncher(), nil, false, 5*time.Second, time.Minute, time.Second, logger.Default())

	if _, err := a.Start(context.Background(), t.TempDir(), map[string]string{}); err == nil {
		t.Fatal("expected Start to fail when a required env var is absent")
	}
}
