// Package factory builds the concrete Agent Adapter for a given agent
// type. It is kept separate from internal/agent/adapter itself because it
// imports both adapter transports (cli, opencode), each of which imports
// internal/agent/adapter for the shared interfaces — putting the
// dispatcher in the same package as those interfaces would be an import
// cycle.
package factory

import (
	"fmt"
	"time"

	"github.com/kandev/kandev/internal/agent/adapter"
	"github.com/kandev/kandev/internal/agent/adapter/cli"
	"github.com/kandev/kandev/internal/agent/adapter/opencode"
	agentdocker "github.com/kandev/kandev/internal/agent/docker"
	"github.com/kandev/kandev/internal/agent/registry"
	"github.com/kandev/kandev/internal/common/logger"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Timeouts bundles the three adapter timeouts carried on
// config.ExecutionConfig, named independently of that package to avoid a
// config -> adapter -> config import cycle.
type Timeouts struct {
	Warmup      time.Duration
	IdleTimeout time.Duration
	AbortGrace  time.Duration
}

// Factory builds an Adapter for a given agent type, wiring in the shared
// Docker client and sandbox image registry so the docker-backed launch
// path is available to every transport, not just the CLI one.
type Factory struct {
	docker     *agentdocker.Client
	registry   *registry.Registry
	useSandbox bool
	timeouts   Timeouts
	log        *logger.Logger
}

func NewFactory(dockerClient *agentdocker.Client, reg *registry.Registry, useSandbox bool, timeouts Timeouts, log *logger.Logger) *Factory {
	return &Factory{docker: dockerClient, registry: reg, useSandbox: useSandbox, timeouts: timeouts, log: log}
}

// New returns the Adapter for the requested agent type.
func (f *Factory) New(agentType v1.AgentType) (adapter.Adapter, error) {
	switch agentType {
	case v1.AgentTypeOpenCode:
		return opencode.New("", f.docker, f.registry, f.useSandbox, f.timeouts.Warmup, f.timeouts.IdleTimeout, f.timeouts.AbortGrace, f.log), nil

	case v1.AgentTypeClaudeCode, v1.AgentTypeCodex, v1.AgentTypeGeminiCLI, v1.AgentTypeCustom:
		spec, ok := cli.Specs[agentType]
		if !ok {
			return nil, fmt.Errorf("no cli spec registered for agent type %q", agentType)
		}
		var launcher cli.Launcher = cli.NewLocalLauncher()
		var dockerLauncher *cli.DockerLauncher
		if f.useSandbox {
			dockerLauncher = cli.NewDockerLauncher(f.docker, f.registry)
		}
		return cli.New(spec, launcher, dockerLauncher, f.useSandbox, f.timeouts.Warmup, f.timeouts.IdleTimeout, f.timeouts.AbortGrace, f.log), nil

	default:
		return nil, fmt.Errorf("unsupported agent type %q", agentType)
	}
}
