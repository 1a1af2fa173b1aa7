package hostregistry

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// LocalHostID is the well-known id of the gateway's own machine when it
// registers itself as a worker host.
const LocalHostID = "local"

// StartLocalHost registers the gateway's own machine as a worker host and
// keeps its heartbeat fresh until ctx is cancelled. It gives a
// single-binary deployment execution capacity without any remote host
// connecting over the host control channel; remote hosts registering over
// that channel coexist with it and win selection when less loaded.
func StartLocalHost(ctx context.Context, r *Registry, maxConcurrent int, interval time.Duration) {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = LocalHostID
	}
	cwd, _ := os.Getwd()

	r.Register(LocalHostID, name, v1.HostCapabilities{
		SupportedAgents: []v1.AgentType{
			v1.AgentTypeOpenCode,
			v1.AgentTypeClaudeCode,
			v1.AgentTypeCodex,
			v1.AgentTypeGeminiCLI,
		},
		MaxConcurrent: maxConcurrent,
		Cwd:           cwd,
		Labels:        map[string]string{"local": "true"},
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Heartbeat(LocalHostID); err != nil {
					r.logger.Warn("local host heartbeat failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
