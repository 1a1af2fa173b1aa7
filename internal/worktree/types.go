package worktree

import "time"

// Status is the lifecycle state of a worktree record.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Worktree is the on-disk working tree checked out for a single execution.
type Worktree struct {
	// ExecutionID is the execution this worktree is checked out for. 1:1:
	// every execution that creates a worktree gets exactly one.
	ExecutionID string `json:"execution_id"`

	// TaskID is the owning task, carried for cleanup-on-task-deletion.
	TaskID string `json:"task_id"`

	// ProjectID identifies the project whose repository this worktree was
	// branched from.
	ProjectID string `json:"project_id"`

	// RepositoryPath is the local filesystem path to the project's main
	// checkout. Stored so a lost worktree directory can be recreated.
	RepositoryPath string `json:"repository_path"`

	// Path is the absolute filesystem path to the worktree directory.
	Path string `json:"path"`

	// Branch is the deterministic git branch name checked out here.
	Branch string `json:"branch"`

	// BaseBranch is the branch this worktree was created from.
	BaseBranch string `json:"base_branch"`

	Status    Status     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Clone returns a value-safe copy for cross-goroutine reads.
func (w *Worktree) Clone() *Worktree {
	if w == nil {
		return nil
	}
	cp := *w
	if w.DeletedAt != nil {
		t := *w.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// CreateRequest describes the worktree an execution needs.
type CreateRequest struct {
	// ExecutionID is required; it determines the branch name.
	ExecutionID string

	// TaskID and TaskTitle are carried through for logging and directory
	// naming; TaskTitle is optional.
	TaskID    string
	TaskTitle string

	// ProjectID, RepositoryPath and BaseBranch identify the repository to
	// branch from. RepositoryPath resolution (projectId -> local checkout
	// path) is the caller's responsibility; project CRUD is out of scope
	// here.
	ProjectID      string
	RepositoryPath string
	BaseBranch     string

	// PullBeforeWorktree, if set, makes the manager best-effort fetch/pull
	// the base branch from origin before branching.
	PullBeforeWorktree bool
}

// Validate checks that the required fields are present.
func (r *CreateRequest) Validate() error {
	if r.ExecutionID == "" {
		return ErrWorktreeNotFound
	}
	if r.RepositoryPath == "" {
		return ErrRepoNotGit
	}
	if r.BaseBranch == "" {
		return ErrBaseBranchMissing
	}
	return nil
}

// ProjectInfo carries the project-scoped settings a worktree's lifecycle
// scripts need. Resolving a projectId to this value is the caller's
// responsibility (project CRUD itself is out of scope).
type ProjectInfo struct {
	ID            string
	SetupScript   string
	CleanupScript string
}

// ProjectProvider resolves a projectId to the information the worktree
// manager needs to run lifecycle scripts. Optional: a Manager with no
// provider configured simply skips scripts.
type ProjectProvider interface {
	GetProject(projectID string) (*ProjectInfo, error)
}
