package cli

import (
	"regexp"
	"strconv"

	"github.com/kandev/kandev/internal/agent/adapter"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

var (
	reThinking    = regexp.MustCompile(`^⏳\s*Thinking\.\.\.`)
	reRunningTool = regexp.MustCompile(`^🔧\s*Running tool:\s*(.+)$`)
	reCompleted   = regexp.MustCompile(`^✅\s*Task completed`)
	reError       = regexp.MustCompile(`^❌\s*Error\s*(.*)$`)
	reTaskCreate  = regexp.MustCompile(`^\[TASK\]\s*Creating:\s*(.+)$`)
	reProgress    = regexp.MustCompile(`^progress:\s*(\d{1,3})%`)
)

// classifyLine converts one line of an agent CLI's stdout into a
// RawAgentEvent using the recognised-markers table below. Unrecognised
// lines become raw_output so nothing is silently dropped.
func classifyLine(line string) adapter.RawAgentEvent {
	switch {
	case reThinking.MatchString(line):
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventThinking, Content: line}}

	case reRunningTool.MatchString(line):
		m := reRunningTool.FindStringSubmatch(line)
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventToolCall, Tool: m[1]}}

	case reCompleted.MatchString(line):
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventCompleted, Success: true, Summary: line}}

	case reError.MatchString(line):
		m := reError.FindStringSubmatch(line)
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventError, Message: m[1], Recoverable: false}}

	case reTaskCreate.MatchString(line):
		m := reTaskCreate.FindStringSubmatch(line)
		return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventMessage, Content: "Creating: " + m[1]}}

	case reProgress.MatchString(line):
		m := reProgress.FindStringSubmatch(line)
		pct, err := strconv.Atoi(m[1])
		if err == nil {
			return adapter.RawAgentEvent{Progress: &v1.ProgressPayload{Message: line, Percentage: &pct}}
		}
	}

	return adapter.RawAgentEvent{AgentEvent: &v1.AgentEventPayload{Kind: v1.AgentEventRawOutput, Content: line, Stream: v1.StreamStdout}}
}
