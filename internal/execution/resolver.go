package execution

import "path/filepath"

// RepoPathResolver maps a task's projectId to the local filesystem path
// of its git checkout — the input the Worktree Manager needs to branch
// from. Project CRUD lives outside this subsystem; this is the minimal
// seam a caller wires in to bridge project identity to a checkout on
// disk.
type RepoPathResolver interface {
	RepoPath(projectID string) (string, error)
}

// DirRepoResolver resolves every project to <Root>/<projectID>, the
// convention used when no project-specific checkout path is configured
// elsewhere.
type DirRepoResolver struct {
	Root string
}

func (d DirRepoResolver) RepoPath(projectID string) (string, error) {
	return filepath.Join(d.Root, projectID), nil
}
