// Package worktree manages git worktrees that isolate each execution's
// working tree from the project's main checkout and from other executions.
package worktree

import "errors"

var (
	// ErrWorktreeNotFound is returned when the requested worktree does not exist.
	ErrWorktreeNotFound = errors.New("worktree not found")

	// ErrRepoNotGit is returned when the repository path is not a git repository.
	ErrRepoNotGit = errors.New("repository is not a git repository")

	// ErrBaseBranchMissing is returned when the requested base branch does not
	// exist in the project's repository.
	ErrBaseBranchMissing = errors.New("base branch does not exist")

	// ErrWorktreeAlreadyExists is returned when the deterministic branch name
	// for an execution already exists, which would otherwise collide with an
	// in-progress or orphaned worktree.
	ErrWorktreeAlreadyExists = errors.New("worktree branch already exists")

	// ErrGitCommandFailed wraps the combined output of a failed git invocation.
	ErrGitCommandFailed = errors.New("git command failed")
)
