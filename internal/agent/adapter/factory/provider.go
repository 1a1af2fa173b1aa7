package factory

import (
	agentdocker "github.com/kandev/kandev/internal/agent/docker"
	"github.com/kandev/kandev/internal/agent/registry"
	"github.com/kandev/kandev/internal/common/config"
	"github.com/kandev/kandev/internal/common/logger"
)

// Provide builds a Factory wired from gateway configuration: the shared
// Docker client (nil-safe — only dereferenced when Sandbox is true), the
// sandbox image registry loaded with its defaults, and the three
// execution timeouts every adapter transport honours.
func Provide(cfg *config.Config, dockerClient *agentdocker.Client, log *logger.Logger) *Factory {
	reg := registry.NewRegistry()
	reg.LoadDefaults()

	return NewFactory(dockerClient, reg, cfg.Execution.Sandbox, Timeouts{
		Warmup:      cfg.Execution.AdapterWarmup,
		IdleTimeout: cfg.Execution.AdapterIdleTimeout,
		AbortGrace:  cfg.Execution.AbortGrace,
	}, log)
}
