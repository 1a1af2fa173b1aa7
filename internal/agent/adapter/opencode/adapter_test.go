package opencode

import (
	"encoding/json"
	"testing"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

func newTestHandle() *handle {
	return &handle{parts: make(map[string]string)}
}

func textPartEnvelope(t *testing.T, partID, text string) eventEnvelope {
	t.Helper()
	props, err := json.Marshal(textPartProperties{PartID: partID, Text: text})
	if err != nil {
		t.Fatalf("marshal props: %v", err)
	}
	return eventEnvelope{Type: eventTextPart, Properties: props}
}

func TestTranslate_TextDelta_PrefixCase(t *testing.T) {
	h := newTestHandle()

	ev1, ok := h.translate(textPartEnvelope(t, "p1", "Hello"))
	if !ok || ev1.AgentEvent.Content != "Hello" {
		t.Fatalf("expected first delta 'Hello', got %+v ok=%v", ev1, ok)
	}

	ev2, ok := h.translate(textPartEnvelope(t, "p1", "Hello, world"))
	if !ok || ev2.AgentEvent.Content != ", world" {
		t.Fatalf("expected second delta ', world', got %+v ok=%v", ev2, ok)
	}
}

func TestTranslate_TextDelta_NonPrefixCase(t *testing.T) {
	h := newTestHandle()
	h.parts["p1"] = "abc"

	ev, ok := h.translate(textPartEnvelope(t, "p1", "xyz"))
	if !ok {
		t.Fatal("expected a translated event")
	}
	if ev.AgentEvent.Content != "xyz" {
		t.Fatalf("expected full text emitted on non-prefix change, got %q", ev.AgentEvent.Content)
	}
}

func TestTranslate_TextDelta_NoChangeIsSuppressed(t *testing.T) {
	h := newTestHandle()
	h.parts["p1"] = "same"

	_, ok := h.translate(textPartEnvelope(t, "p1", "same"))
	if ok {
		t.Fatal("expected no event when text has not grown")
	}
}

func TestTranslate_SeparatePartIDsTrackedIndependently(t *testing.T) {
	h := newTestHandle()

	if _, ok := h.translate(textPartEnvelope(t, "p1", "foo")); !ok {
		t.Fatal("expected event for p1")
	}
	ev, ok := h.translate(textPartEnvelope(t, "p2", "bar"))
	if !ok || ev.AgentEvent.Content != "bar" {
		t.Fatalf("expected independent delta for p2, got %+v ok=%v", ev, ok)
	}
}

func TestTranslate_Idle(t *testing.T) {
	h := newTestHandle()
	ev, ok := h.translate(eventEnvelope{Type: eventIdle})
	if !ok || ev.AgentEvent.Kind != v1.AgentEventCompleted || !ev.AgentEvent.Success {
		t.Fatalf("expected successful completed event, got %+v ok=%v", ev, ok)
	}
}

func TestTranslate_Error(t *testing.T) {
	h := newTestHandle()
	props, _ := json.Marshal(errorProperties{Message: "agent crashed"})
	ev, ok := h.translate(eventEnvelope{Type: eventError, Properties: props})
	if !ok || ev.AgentEvent.Kind != v1.AgentEventError || ev.AgentEvent.Message != "agent crashed" {
		t.Fatalf("expected error event with message, got %+v ok=%v", ev, ok)
	}
}

func TestTranslate_UnknownTypeIgnored(t *testing.T) {
	h := newTestHandle()
	if _, ok := h.translate(eventEnvelope{Type: "something.unrecognised"}); ok {
		t.Fatal("expected unrecognised event types to be ignored")
	}
}
