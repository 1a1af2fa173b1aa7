package hostregistry

import (
	"testing"
	"time"

	"github.com/kandev/kandev/internal/common/logger"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

func newTestRegistry() *Registry {
	return NewRegistry(Config{HeartbeatInterval: 15 * time.Second, LivenessWindow: 60 * time.Second}, newTestLogger())
}

func caps(maxConcurrent int, agents ...v1.AgentType) v1.HostCapabilities {
	return v1.HostCapabilities{SupportedAgents: agents, MaxConcurrent: maxConcurrent}
}

func TestSelectHost_LeastLoaded(t *testing.T) {
	r := newTestRegistry()
	r.Register("h1", "host-1", caps(2, v1.AgentTypeOpenCode))
	r.Register("h2", "host-2", caps(2, v1.AgentTypeOpenCode))

	if err := r.Reserve("h1", "t1"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	host, err := r.SelectHost(v1.AgentTypeOpenCode, "")
	if err != nil {
		t.Fatalf("SelectHost failed: %v", err)
	}
	if host.ID != "h2" {
		t.Fatalf("expected h2 (less loaded), got %s", host.ID)
	}
}

func TestSelectHost_TieBrokenByConnectedAt(t *testing.T) {
	r := newTestRegistry()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return t0 }
	r.Register("h1", "host-1", caps(2, v1.AgentTypeOpenCode))

	r.now = func() time.Time { return t0.Add(time.Minute) }
	r.Register("h2", "host-2", caps(2, v1.AgentTypeOpenCode))

	host, err := r.SelectHost(v1.AgentTypeOpenCode, "")
	if err != nil {
		t.Fatalf("SelectHost failed: %v", err)
	}
	if host.ID != "h1" {
		t.Fatalf("expected h1 (earlier connectedAt on tie), got %s", host.ID)
	}
}

func TestSelectHost_NoHostAvailable(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.SelectHost(v1.AgentTypeOpenCode, ""); err == nil {
		t.Fatal("expected error when no hosts are registered")
	}
}

func TestSelectHost_ExplicitMismatch(t *testing.T) {
	r := newTestRegistry()
	r.Register("h1", "host-1", caps(2, v1.AgentTypeOpenCode))

	_, err := r.SelectHost(v1.AgentTypeCodex, "h1")
	if err == nil {
		t.Fatal("expected PreconditionFailed for unsupported agent type")
	}
}

func TestReserveRelease_CapacityInvariant(t *testing.T) {
	r := newTestRegistry()
	r.Register("h1", "host-1", caps(1, v1.AgentTypeOpenCode))

	if err := r.Reserve("h1", "t1"); err != nil {
		t.Fatalf("first Reserve failed: %v", err)
	}
	if err := r.Reserve("h1", "t2"); err == nil {
		t.Fatal("expected second Reserve to fail: host is at capacity")
	}

	host, _ := r.Get("h1")
	if host.Status != v1.HostBusy {
		t.Fatalf("expected host to be busy at capacity, got %s", host.Status)
	}
	if len(host.ActiveTaskIDs) != 1 {
		t.Fatalf("expected 1 active task, got %d", len(host.ActiveTaskIDs))
	}

	if err := r.Release("h1", "t1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	host, _ = r.Get("h1")
	if host.Status != v1.HostOnline {
		t.Fatalf("expected host to return to online after release, got %s", host.Status)
	}

	// Releasing again is a no-op.
	if err := r.Release("h1", "t1"); err != nil {
		t.Fatalf("idempotent Release failed: %v", err)
	}
}

func TestMarkOffline_ImmediateAndRecoverable(t *testing.T) {
	r := newTestRegistry()
	r.Register("h1", "host-1", caps(2, v1.AgentTypeOpenCode))

	r.MarkOffline("h1")
	host, _ := r.Get("h1")
	if host.Status != v1.HostOffline {
		t.Fatalf("expected host offline after MarkOffline, got %s", host.Status)
	}

	if _, err := r.SelectHost(v1.AgentTypeOpenCode, ""); err == nil {
		t.Fatal("expected no eligible host while offline")
	}

	if err := r.Heartbeat("h1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	host, _ = r.Get("h1")
	if host.Status != v1.HostOnline {
		t.Fatalf("expected host back online after heartbeat, got %s", host.Status)
	}
}

func TestSweepLiveness_MarksOffline(t *testing.T) {
	r := newTestRegistry()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return t0 }
	r.Register("h1", "host-1", caps(2, v1.AgentTypeOpenCode))

	r.now = func() time.Time { return t0.Add(2 * time.Minute) }
	r.SweepLiveness()

	host, _ := r.Get("h1")
	if host.Status != v1.HostOffline {
		t.Fatalf("expected host offline after missed heartbeat, got %s", host.Status)
	}

	if err := r.Heartbeat("h1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	host, _ = r.Get("h1")
	if host.Status != v1.HostOnline {
		t.Fatalf("expected host back online after heartbeat, got %s", host.Status)
	}
}
