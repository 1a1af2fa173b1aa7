package execution

import (
	"testing"
	"time"
)

func signalled(w *waitingStart) bool {
	select {
	case <-w.ready:
		return true
	default:
		return false
	}
}

func TestDispatchQueue_WakeIsFIFOPerAgentType(t *testing.T) {
	q := newDispatchQueue()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Interleave two agent types; heap.Remove reshuffles the backing
	// slice, so wake must not rely on array order to find the oldest.
	a1 := q.wait("task-a1", "opencode")
	b2 := q.wait("task-b2", "codex")
	a3 := q.wait("task-a3", "opencode")
	a4 := q.wait("task-a4", "opencode")
	b5 := q.wait("task-b5", "codex")
	for i, w := range []*waitingStart{a1, b2, a3, a4, b5} {
		w.queuedAt = t0.Add(time.Duration(i) * time.Second)
	}

	q.wake("opencode")
	if !signalled(a1) {
		t.Fatal("expected first wake to signal the oldest opencode waiter (a1)")
	}

	q.wake("opencode")
	if signalled(a4) {
		t.Fatal("a4 woken before a3: wake is not FIFO by queuedAt")
	}
	if !signalled(a3) {
		t.Fatal("expected second wake to signal a3")
	}

	q.wake("opencode")
	if !signalled(a4) {
		t.Fatal("expected third wake to signal a4")
	}

	q.wake("codex")
	if !signalled(b2) {
		t.Fatal("expected codex wake to signal its oldest waiter (b2)")
	}
	q.wake("codex")
	if !signalled(b5) {
		t.Fatal("expected second codex wake to signal b5")
	}

	// No waiters left: a further wake is a no-op.
	q.wake("opencode")
}

func TestDispatchQueue_CancelRemovesWaiter(t *testing.T) {
	q := newDispatchQueue()
	w1 := q.wait("task-1", "opencode")
	w2 := q.wait("task-2", "opencode")

	q.cancel(w1)
	q.wake("opencode")
	if signalled(w1) {
		t.Fatal("cancelled waiter must not be woken")
	}
	if !signalled(w2) {
		t.Fatal("expected the remaining waiter to be woken")
	}

	// Cancelling an already-woken (popped) waiter is a no-op.
	q.cancel(w2)
}