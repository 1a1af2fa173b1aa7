package execution

import (
	"github.com/kandev/kandev/internal/common/config"
)

// Provide builds an Engine's Config from the resolved gateway
// configuration. Dependencies are assembled by the caller (cmd/gateway)
// since they in turn depend on the database connection, host registry,
// and adapter factory already constructed there.
func Provide(cfg *config.Config, deps Dependencies) *Engine {
	engineCfg := Config{
		DispatchWaitTimeout:   cfg.Execution.DispatchWaitTimeout,
		AbortGrace:            cfg.Execution.AbortGrace,
		WorktreeCreateTimeout: cfg.Worktree.CreateTimeout,
	}
	return NewEngine(engineCfg, deps)
}
