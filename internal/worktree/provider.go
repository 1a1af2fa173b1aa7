package worktree

import (
	"database/sql"

	"github.com/kandev/kandev/internal/common/config"
	"github.com/kandev/kandev/internal/common/logger"
)

// Provide constructs the worktree Manager from gateway configuration, using
// the shared SQLite connection for its store.
func Provide(db *sql.DB, cfg *config.Config, log *logger.Logger) (*Manager, error) {
	store, err := NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewManager(Config{
		Enabled:      true,
		BasePath:     cfg.Worktree.Root,
		BranchPrefix: DefaultBranchPrefix,
	}, store, log)
}
