package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/logger"
)

const (
	defaultGitFetchTimeout = 8 * time.Second
	defaultGitPullTimeout  = 8 * time.Second
)

// repoLockEntry tracks a per-repository mutex and its reference count, so
// the map of locks doesn't grow without bound across the manager's lifetime.
type repoLockEntry struct {
	mu       *sync.Mutex
	refCount int
}

// Manager creates, locates, and destroys the git worktrees backing
// executions. It never shares a worktree path between two executions and
// leaves no partial state behind a failed Create (create-then-verify,
// cleanup on error).
type Manager struct {
	config Config
	logger *logger.Logger
	store  Store

	repoLocks  map[string]*repoLockEntry
	repoLockMu sync.Mutex

	projects ProjectProvider

	fetchTimeout time.Duration
	pullTimeout  time.Duration
}

// NewManager validates cfg, ensures the worktree base directory exists, and
// returns a ready Manager.
func NewManager(cfg Config, store Store, log *logger.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worktree config: %w", err)
	}
	if log == nil {
		log = logger.Default()
	}

	basePath, err := cfg.ExpandedBasePath()
	if err != nil {
		return nil, fmt.Errorf("failed to expand worktree base path: %w", err)
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktree base directory: %w", err)
	}

	return &Manager{
		config:       cfg,
		logger:       log.WithFields(zap.String("component", "worktree-manager")),
		store:        store,
		repoLocks:    make(map[string]*repoLockEntry),
		fetchTimeout: defaultGitFetchTimeout,
		pullTimeout:  defaultGitPullTimeout,
	}, nil
}

// SetProjectProvider wires in lifecycle-script resolution. Without one, a
// Manager silently skips setup/cleanup scripts.
func (m *Manager) SetProjectProvider(p ProjectProvider) {
	m.projects = p
}

// IsEnabled reports whether worktree isolation is active.
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled
}

func (m *Manager) getRepoLock(repoPath string) *sync.Mutex {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()

	if entry, exists := m.repoLocks[repoPath]; exists {
		entry.refCount++
		return entry.mu
	}
	entry := &repoLockEntry{mu: &sync.Mutex{}, refCount: 1}
	m.repoLocks[repoPath] = entry
	return entry.mu
}

func (m *Manager) releaseRepoLock(repoPath string) {
	m.repoLockMu.Lock()
	defer m.repoLockMu.Unlock()

	entry, exists := m.repoLocks[repoPath]
	if !exists {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		delete(m.repoLocks, repoPath)
	}
}

// Create implements the Worktree Manager's createWorktree contract: given a
// project, executionId and base branch, it returns the worktree {path,
// branchName}, creating it if it does not already exist for this execution.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Worktree, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if existing, err := m.GetByExecutionID(ctx, req.ExecutionID); err == nil && existing != nil {
		if m.IsValid(existing.Path) {
			m.logger.Debug("reusing existing worktree",
				zap.String("execution_id", req.ExecutionID),
				zap.String("path", existing.Path))
			return existing, nil
		}
		m.logger.Warn("worktree directory invalid, recreating",
			zap.String("execution_id", req.ExecutionID))
		return m.recreate(ctx, existing, req)
	}

	if !m.isGitRepo(req.RepositoryPath) {
		return nil, ErrRepoNotGit
	}

	branchName := m.config.BranchName(req.ExecutionID)
	if m.branchExists(req.RepositoryPath, branchName) {
		return nil, fmt.Errorf("%w: %s", ErrWorktreeAlreadyExists, branchName)
	}

	repoLock := m.getRepoLock(req.RepositoryPath)
	repoLock.Lock()
	defer func() {
		repoLock.Unlock()
		m.releaseRepoLock(req.RepositoryPath)
	}()

	baseRef := req.BaseBranch
	if req.PullBeforeWorktree {
		baseRef = m.pullBaseBranch(req.RepositoryPath, req.BaseBranch)
	}
	if !m.branchExists(req.RepositoryPath, baseRef) {
		return nil, fmt.Errorf("%w: %s", ErrBaseBranchMissing, baseRef)
	}

	return m.createWorktree(ctx, req, branchName, baseRef)
}

func (m *Manager) createWorktree(ctx context.Context, req CreateRequest, branchName, baseRef string) (*Worktree, error) {
	dirName := dirNameForExecution(req.ExecutionID, req.TaskTitle)
	worktreePath, err := m.config.WorktreePath(dirName)
	if err != nil {
		return nil, fmt.Errorf("failed to compute worktree path: %w", err)
	}

	if err := m.gitAddWorktree(ctx, req.RepositoryPath, branchName, worktreePath, baseRef); err != nil {
		return nil, err
	}

	now := time.Now()
	wt := &Worktree{
		ExecutionID:    req.ExecutionID,
		TaskID:         req.TaskID,
		ProjectID:      req.ProjectID,
		RepositoryPath: req.RepositoryPath,
		Path:           worktreePath,
		Branch:         branchName,
		BaseBranch:     req.BaseBranch,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.persistWorktree(ctx, wt, worktreePath, req.RepositoryPath); err != nil {
		return nil, err
	}

	if err := m.runSetupScript(ctx, wt); err != nil {
		// Setup script failure leaves no partial state: tear the worktree
		// back down before surfacing the error.
		m.cleanupAfterFailure(ctx, wt)
		return nil, fmt.Errorf("setup script failed: %w", err)
	}

	m.logger.Info("created worktree",
		zap.String("execution_id", req.ExecutionID),
		zap.String("task_id", req.TaskID),
		zap.String("path", worktreePath),
		zap.String("branch", branchName))

	return wt, nil
}

func (m *Manager) gitAddWorktree(ctx context.Context, repoPath, branchName, worktreePath, baseRef string) error {
	cmd := m.newNonInteractiveGitCmd(ctx, repoPath, "worktree", "add", "-b", branchName, worktreePath, baseRef)
	output, err := cmd.CombinedOutput()
	if err != nil {
		m.logger.Error("git worktree add failed", zap.String("output", string(output)), zap.Error(err))
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(output))
	}
	return nil
}

func (m *Manager) persistWorktree(ctx context.Context, wt *Worktree, worktreePath, repoPath string) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.CreateWorktree(ctx, wt); err != nil {
		if cleanupErr := m.removeWorktreeDir(ctx, worktreePath, repoPath); cleanupErr != nil {
			m.logger.Warn("failed to clean up worktree after persist failure", zap.Error(cleanupErr))
		}
		return fmt.Errorf("failed to persist worktree: %w", err)
	}
	return nil
}

// cleanupAfterFailure removes the worktree directory and store record for a
// worktree that failed partway through creation.
func (m *Manager) cleanupAfterFailure(ctx context.Context, wt *Worktree) {
	if err := m.removeWorktreeDir(ctx, wt.Path, wt.RepositoryPath); err != nil {
		m.logger.Warn("failed to remove worktree directory after failure", zap.Error(err))
	}
	if m.store != nil {
		if err := m.store.DeleteWorktree(ctx, wt.ExecutionID); err != nil {
			m.logger.Warn("failed to delete worktree record after failure", zap.Error(err))
		}
	}
}

// GetByExecutionID returns the worktree for an execution, if one exists.
func (m *Manager) GetByExecutionID(ctx context.Context, executionID string) (*Worktree, error) {
	if m.store == nil {
		return nil, ErrWorktreeNotFound
	}
	wt, err := m.store.GetWorktreeByExecutionID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if wt == nil {
		return nil, ErrWorktreeNotFound
	}
	return wt, nil
}

// IsValid reports whether the given path is a usable worktree directory.
func (m *Manager) IsValid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	content, err := os.ReadFile(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(content), "gitdir:")
}

// Destroy implements the Worktree Manager's destroyWorktree contract:
// removes the worktree directory and deletes its branch. Idempotent — a
// missing worktree is not an error.
func (m *Manager) Destroy(ctx context.Context, executionID string) error {
	wt, err := m.GetByExecutionID(ctx, executionID)
	if err == ErrWorktreeNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return m.destroy(ctx, wt)
}

func (m *Manager) destroy(ctx context.Context, wt *Worktree) error {
	repoLock := m.getRepoLock(wt.RepositoryPath)
	repoLock.Lock()
	defer func() {
		repoLock.Unlock()
		m.releaseRepoLock(wt.RepositoryPath)
	}()

	m.runCleanupScript(ctx, wt)

	if err := m.removeWorktreeDir(ctx, wt.Path, wt.RepositoryPath); err != nil {
		m.logger.Warn("failed to remove worktree directory", zap.String("path", wt.Path), zap.Error(err))
	}

	cmd := exec.CommandContext(ctx, "git", "branch", "-D", wt.Branch)
	cmd.Dir = wt.RepositoryPath
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Debug("failed to delete worktree branch",
			zap.String("branch", wt.Branch), zap.String("output", string(output)), zap.Error(err))
	}

	if m.store != nil {
		now := time.Now()
		wt.Status = StatusDeleted
		wt.DeletedAt = &now
		wt.UpdatedAt = now
		if err := m.store.UpdateWorktree(ctx, wt); err != nil {
			m.logger.Debug("failed to mark worktree deleted (may already be gone)", zap.Error(err))
		}
	}

	m.logger.Info("destroyed worktree",
		zap.String("execution_id", wt.ExecutionID),
		zap.String("task_id", wt.TaskID),
		zap.String("path", wt.Path))

	return nil
}

// DestroyAllForTask removes every worktree recorded for a task, used when a
// task is deleted.
func (m *Manager) DestroyAllForTask(ctx context.Context, taskID string) error {
	if m.store == nil {
		return nil
	}
	worktrees, err := m.store.GetWorktreesByTaskID(ctx, taskID)
	if err != nil {
		return err
	}
	var lastErr error
	for _, wt := range worktrees {
		if wt.Status == StatusDeleted {
			continue
		}
		if err := m.destroy(ctx, wt); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) runSetupScript(ctx context.Context, wt *Worktree) error {
	if m.projects == nil {
		return nil
	}
	project, err := m.projects.GetProject(wt.ProjectID)
	if err != nil || project == nil || strings.TrimSpace(project.SetupScript) == "" {
		return nil
	}
	m.logger.Info("running worktree setup script", zap.String("execution_id", wt.ExecutionID))
	return m.runScript(ctx, project.SetupScript, wt.Path)
}

func (m *Manager) runCleanupScript(ctx context.Context, wt *Worktree) {
	if m.projects == nil {
		return
	}
	project, err := m.projects.GetProject(wt.ProjectID)
	if err != nil || project == nil || strings.TrimSpace(project.CleanupScript) == "" {
		return
	}
	m.logger.Info("running worktree cleanup script", zap.String("execution_id", wt.ExecutionID))
	if err := m.runScript(ctx, project.CleanupScript, wt.Path); err != nil {
		m.logger.Warn("cleanup script failed, proceeding with removal anyway", zap.Error(err))
	}
}

func (m *Manager) runScript(ctx context.Context, script, workingDir string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = workingDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("script failed: %w (output: %s)", err, string(output))
	}
	return nil
}

// Reconcile sweeps the worktree base directory on startup, removing only
// directories with no store record at all (a crash between
// gitAddWorktree and persistWorktree leaves one). Recorded worktrees are
// never touched here: a worktree is destroyed only by its execution's
// cleanup or an explicit operator request, and a bare process restart is
// neither.
func (m *Manager) Reconcile(ctx context.Context) error {
	basePath, err := m.config.ExpandedBasePath()
	if err != nil {
		return fmt.Errorf("failed to expand worktree base path: %w", err)
	}

	worktrees, err := m.store.ListActiveWorktrees(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active worktrees: %w", err)
	}

	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read worktree base directory: %w", err)
	}
	known := make(map[string]bool, len(worktrees))
	for _, wt := range worktrees {
		known[filepath.Base(wt.Path)] = true
	}
	for _, entry := range entries {
		if !entry.IsDir() || known[entry.Name()] {
			continue
		}
		orphanPath := filepath.Join(basePath, entry.Name())
		m.logger.Info("removing untracked worktree directory", zap.String("path", orphanPath))
		if err := os.RemoveAll(orphanPath); err != nil {
			m.logger.Warn("failed to remove untracked worktree directory", zap.String("path", orphanPath), zap.Error(err))
		}
	}

	return nil
}

func (m *Manager) isGitRepo(path string) bool {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil {
		return false
	}
	return info.IsDir() || info.Mode().IsRegular()
}

func (m *Manager) branchExists(repoPath, branch string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", branch)
	cmd.Dir = repoPath
	return cmd.Run() == nil
}

func (m *Manager) currentBranch(repoPath string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = repoPath
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// newNonInteractiveGitCmd builds a git invocation that never blocks on a
// credential prompt: CI/headless hosts have no terminal to answer one.
func (m *Manager) newNonInteractiveGitCmd(ctx context.Context, repoPath string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=Never",
		"GIT_ASKPASS=echo",
		"SSH_ASKPASS=/bin/false",
		"GIT_SSH_COMMAND=ssh -oBatchMode=yes",
	)
	cmd.WaitDelay = 500 * time.Millisecond
	return cmd
}

// pullBaseBranch best-effort fetches the base branch from origin and
// returns the ref to branch from, falling back to the original ref name on
// any fetch/pull failure.
func (m *Manager) pullBaseBranch(repoPath, baseBranch string) string {
	localBranch := strings.TrimPrefix(baseBranch, "origin/")
	isRemoteRef := localBranch != baseBranch

	fetchCtx, cancel := context.WithTimeout(context.Background(), m.fetchTimeout)
	defer cancel()

	fetchArgs := []string{"fetch", "origin"}
	if localBranch != "" {
		fetchArgs = append(fetchArgs, localBranch)
	}
	if output, err := m.newNonInteractiveGitCmd(fetchCtx, repoPath, fetchArgs...).CombinedOutput(); err != nil {
		m.logger.Warn("git fetch failed before worktree creation, continuing with fallback ref",
			zap.String("branch", baseBranch), zap.String("output", string(output)), zap.Error(err))
		return baseBranch
	}

	if isRemoteRef {
		return "origin/" + localBranch
	}

	remoteRef := "origin/" + localBranch
	if m.currentBranch(repoPath) == baseBranch {
		pullCtx, cancel := context.WithTimeout(context.Background(), m.pullTimeout)
		defer cancel()
		if output, err := m.newNonInteractiveGitCmd(pullCtx, repoPath, "pull", "--ff-only", "origin", baseBranch).CombinedOutput(); err != nil {
			m.logger.Warn("git pull failed before worktree creation, continuing with remote ref",
				zap.String("branch", baseBranch), zap.String("output", string(output)), zap.Error(err))
			return remoteRef
		}
		return baseBranch
	}

	if m.branchExists(repoPath, remoteRef) {
		return remoteRef
	}
	return baseBranch
}

func (m *Manager) removeWorktreeDir(ctx context.Context, worktreePath, repoPath string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", worktreePath)
	cmd.Dir = repoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Debug("git worktree remove failed, falling back to rm", zap.String("output", string(output)), zap.Error(err))
		if err := m.forceRemoveDir(ctx, worktreePath); err != nil {
			return err
		}
		pruneCmd := exec.CommandContext(ctx, "git", "worktree", "prune")
		pruneCmd.Dir = repoPath
		_ = pruneCmd.Run()
	}
	return nil
}

// forceRemoveDir removes a directory, retrying on transient failures before
// falling back to rm -rf.
func (m *Manager) forceRemoveDir(ctx context.Context, dir string) error {
	const maxRetries = 3
	for i := range maxRetries {
		if err := os.RemoveAll(dir); err == nil {
			return nil
		}
		if i < maxRetries-1 {
			time.Sleep(200 * time.Millisecond)
		}
	}
	cmd := exec.CommandContext(ctx, "rm", "-rf", dir)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("rm -rf failed: %w (output: %s)", err, string(output))
	}
	return nil
}

// recreate rebuilds a worktree directory for an execution whose record
// still exists in the store but whose directory was lost (e.g. manual
// deletion, disk loss).
func (m *Manager) recreate(ctx context.Context, existing *Worktree, req CreateRequest) (*Worktree, error) {
	if existing.Path != "" {
		_ = os.RemoveAll(existing.Path)
	}
	pruneCmd := exec.CommandContext(ctx, "git", "worktree", "prune")
	pruneCmd.Dir = req.RepositoryPath
	_ = pruneCmd.Run()

	repoLock := m.getRepoLock(req.RepositoryPath)
	repoLock.Lock()
	defer func() {
		repoLock.Unlock()
		m.releaseRepoLock(req.RepositoryPath)
	}()

	dirName := dirNameForExecution(req.ExecutionID, req.TaskTitle)
	worktreePath, err := m.config.WorktreePath(dirName)
	if err != nil {
		return nil, fmt.Errorf("failed to compute worktree path: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", worktreePath, existing.Branch)
	cmd.Dir = req.RepositoryPath
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Error("failed to recreate worktree", zap.String("output", string(output)), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, string(output))
	}

	existing.Path = worktreePath
	existing.Status = StatusActive
	existing.UpdatedAt = time.Now()

	if m.store != nil {
		if err := m.store.UpdateWorktree(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update worktree record: %w", err)
		}
	}

	m.logger.Info("recreated worktree", zap.String("execution_id", req.ExecutionID), zap.String("path", worktreePath))
	return existing, nil
}
