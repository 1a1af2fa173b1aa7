// Package eventlog implements the Event Log: an append-only,
// per-execution timeline of ExecutionEvents plus the Execution records
// that own them. It is the durability layer the Execution Engine treats
// as its source of truth; live in-memory Execution state is a cache over
// this store (see internal/execution).
package eventlog

import (
	"errors"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Filter narrows a Read call to a single event kind and, for agent_event,
// a single inner variant. Zero values mean "no filter".
type Filter struct {
	Kind           v1.EventKind
	AgentEventKind v1.AgentEventKind
}

func (f Filter) match(ev *v1.ExecutionEvent) bool {
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.AgentEventKind != "" {
		if ev.AgentEvent == nil || ev.AgentEvent.Kind != f.AgentEventKind {
			return false
		}
	}
	return true
}

// ErrUnknownExecution is returned when an operation targets an execution
// id the store has never seen.
var ErrUnknownExecution = errors.New("eventlog: unknown execution")

// ErrSeqConflict names a sequence conflict between concurrent writers of
// one execution. Append assigns each seq itself and takes no expected
// seq, so no function in this package returns it; one worker goroutine
// owns each execution's appends.
var ErrSeqConflict = errors.New("eventlog: sequence conflict")
