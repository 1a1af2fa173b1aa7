package eventlog

import (
	"path/filepath"

	"github.com/kandev/kandev/internal/common/config"
	"github.com/kandev/kandev/internal/common/logger"
)

// Provide constructs the Event Log store. The log always lives in its
// own SQLite file (<dataDir>/executions.db), regardless of which driver
// backs the Task Store: its TailSince wake channels are an in-process
// mechanism tied to a single gateway instance, so a shared remote
// database would add nothing here.
func Provide(cfg *config.Config, log *logger.Logger) (Store, error) {
	return NewSQLiteStore(filepath.Join(cfg.DataDir, "executions.db"), log)
}
