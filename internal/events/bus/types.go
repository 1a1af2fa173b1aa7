package bus

import "fmt"

// Subject prefixes used across the gateway. Components subscribe with
// wildcards (e.g. "execution.*.event") rather than hardcoding a task ID.
const (
	SubjectExecutionEvent   = "execution.event"   // execution.<executionID>.event
	SubjectExecutionStatus  = "execution.status"  // execution.<executionID>.status
	SubjectTaskChanged      = "task.changed"      // task.<taskID>.changed
	SubjectHostHeartbeat    = "host.heartbeat"     // host.<hostID>.heartbeat
	SubjectHostStatusChange = "host.status"        // host.<hostID>.status
)

// ExecutionEventSubject returns the subject an execution's events are
// published on, suitable for exact-match or wildcard ("execution.*.event")
// subscription.
func ExecutionEventSubject(executionID string) string {
	return fmt.Sprintf("execution.%s.event", executionID)
}

// ExecutionStatusSubject returns the subject name for bare state-transition
// notifications of an execution. Nothing in the gateway publishes or
// subscribes to it; state changes travel as status_changed events on
// ExecutionEventSubject.
func ExecutionStatusSubject(executionID string) string {
	return fmt.Sprintf("execution.%s.status", executionID)
}

// TaskChangedSubject returns the subject a task's metadata/state changes
// are published on.
func TaskChangedSubject(taskID string) string {
	return fmt.Sprintf("task.%s.changed", taskID)
}

// HostHeartbeatSubject returns the subject a host's heartbeats are
// published on.
func HostHeartbeatSubject(hostID string) string {
	return fmt.Sprintf("host.%s.heartbeat", hostID)
}

// HostStatusSubject returns the subject a host's online/busy/offline
// transitions are published on.
func HostStatusSubject(hostID string) string {
	return fmt.Sprintf("host.%s.status", hostID)
}

// AllExecutionEvents is the wildcard subject matching every execution's
// event stream. The websocket hub does not subscribe to it; clients get
// execution events through the Subscription Bus, which reads the Event Log.
const AllExecutionEvents = "execution.*.event"

// AllHostHeartbeats is the wildcard subject matching every host's
// heartbeat subject. The Host Registry's liveness sweep does not subscribe
// to it; it checks each host's recorded lastHeartbeat instead.
const AllHostHeartbeats = "host.*.heartbeat"
