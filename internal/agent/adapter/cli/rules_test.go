package cli

import (
	"testing"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

func TestClassifyLine_RecognisedMarkers(t *testing.T) {
	cases := []struct {
		line     string
		wantKind v1.AgentEventKind
	}{
		{"⏳ Thinking...", v1.AgentEventThinking},
		{"🔧 Running tool: grep", v1.AgentEventToolCall},
		{"✅ Task completed", v1.AgentEventCompleted},
		{"❌ Error something broke", v1.AgentEventError},
		{"[TASK] Creating: fix the bug", v1.AgentEventMessage},
	}
	for _, c := range cases {
		ev := classifyLine(c.line)
		if ev.AgentEvent == nil {
			t.Fatalf("line %q: expected an agent event, got progress", c.line)
		}
		if ev.AgentEvent.Kind != c.wantKind {
			t.Fatalf("line %q: expected kind %s, got %s", c.line, c.wantKind, ev.AgentEvent.Kind)
		}
	}
}

func TestClassifyLine_RunningTool_ExtractsToolName(t *testing.T) {
	ev := classifyLine("🔧 Running tool: apply_patch")
	if ev.AgentEvent.Tool != "apply_patch" {
		t.Fatalf("expected tool name apply_patch, got %q", ev.AgentEvent.Tool)
	}
}

func TestClassifyLine_Progress(t *testing.T) {
	ev := classifyLine("progress: 42%")
	if ev.Progress == nil {
		t.Fatal("expected a progress event")
	}
	if ev.Progress.Percentage == nil || *ev.Progress.Percentage != 42 {
		t.Fatalf("expected percentage 42, got %v", ev.Progress.Percentage)
	}
}

func TestClassifyLine_UnrecognisedBecomesRawOutput(t *testing.T) {
	ev := classifyLine("some unrelated stdout line")
	if ev.AgentEvent == nil || ev.AgentEvent.Kind != v1.AgentEventRawOutput {
		t.Fatalf("expected raw_output, got %+v", ev)
	}
	if ev.AgentEvent.Content != "some unrelated stdout line" {
		t.Fatalf("expected content preserved, got %q", ev.AgentEvent.Content)
	}
}
