package execution

import (
	"container/heap"
	"sync"
	"time"
)

// waitingStart is one startExecution call blocked because every host
// capable of running its agentType is at capacity. Ordering is strictly
// FIFO by queuedAt: there is no priority or preemption here, just a
// concurrency cap per host, so the heap carries no priority field at all.
type waitingStart struct {
	taskID    string
	agentType string
	queuedAt  time.Time
	ready     chan struct{}
	index     int
}

type waitHeap []*waitingStart

func (h waitHeap) Len() int            { return len(h) }
func (h waitHeap) Less(i, j int) bool  { return h[i].queuedAt.Before(h[j].queuedAt) }
func (h waitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *waitHeap) Push(x interface{}) {
	item := x.(*waitingStart)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *waitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// dispatchQueue holds startExecution calls waiting on host capacity,
// woken in FIFO order as hosts release capacity. One shared queue for the
// whole engine (not one per host): hosts release capacity far less often
// than tasks start, so a single small heap filtered by agentType is
// simpler than per-host structures and gives the same FIFO-per-agent-type
// ordering.
type dispatchQueue struct {
	mu   sync.Mutex
	heap waitHeap
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{}
	heap.Init(&q.heap)
	return q
}

// wait enqueues taskID and returns a waiter whose ready channel is closed
// (signalled) once a host supporting agentType may have freed capacity.
func (q *dispatchQueue) wait(taskID, agentType string) *waitingStart {
	q.mu.Lock()
	defer q.mu.Unlock()
	w := &waitingStart{taskID: taskID, agentType: agentType, queuedAt: time.Now(), ready: make(chan struct{}, 1)}
	heap.Push(&q.heap, w)
	return w
}

// cancel removes w from the queue if it is still present (no-op if it was
// already woken and popped).
func (q *dispatchQueue) cancel(w *waitingStart) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.index < 0 || w.index >= len(q.heap) || q.heap[w.index] != w {
		return
	}
	heap.Remove(&q.heap, w.index)
}

// wake signals the oldest waiter for agentType, if any, to retry host
// selection. The heap is ordered by queuedAt across every agent type, so
// the oldest waiter for one type is not at any fixed array position:
// the slice only satisfies the heap invariant, not full sort order. Scan
// for the minimum queuedAt among matches rather than taking the first
// match in array order, which would break FIFO once removals have
// reshuffled the slice.
func (q *dispatchQueue) wake(agentType string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	oldest := -1
	for i, w := range q.heap {
		if w.agentType != agentType {
			continue
		}
		if oldest == -1 || w.queuedAt.Before(q.heap[oldest].queuedAt) {
			oldest = i
		}
	}
	if oldest == -1 {
		return
	}
	w := q.heap[oldest]
	heap.Remove(&q.heap, oldest)
	select {
	case w.ready <- struct{}{}:
	default:
	}
}
