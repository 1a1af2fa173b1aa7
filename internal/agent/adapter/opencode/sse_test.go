package opencode

import (
	"strings"
	"testing"
)

func TestReadSSEEvents_ParsesDataLines(t *testing.T) {
	body := `data: {"type":"session.idle","properties":{}}

data: {"type":"tool.start","properties":{"tool":"grep","args":""}}

`
	out := make(chan eventEnvelope, 10)
	if err := readSSEEvents(strings.NewReader(body), out); err != nil {
		t.Fatalf("readSSEEvents failed: %v", err)
	}
	close(out)

	var got []eventEnvelope
	for ev := range out {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Type != "session.idle" {
		t.Fatalf("expected first event type session.idle, got %s", got[0].Type)
	}
	if got[1].Type != "tool.start" {
		t.Fatalf("expected second event type tool.start, got %s", got[1].Type)
	}
}

func TestReadSSEEvents_IgnoresNonDataFields(t *testing.T) {
	body := "event: custom\nid: 1\ndata: {\"type\":\"session.idle\",\"properties\":{}}\n\n"
	out := make(chan eventEnvelope, 10)
	if err := readSSEEvents(strings.NewReader(body), out); err != nil {
		t.Fatalf("readSSEEvents failed: %v", err)
	}
	close(out)

	count := 0
	for range out {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 event, got %d", count)
	}
}
