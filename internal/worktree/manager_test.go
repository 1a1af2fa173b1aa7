package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/kandev/kandev/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Enabled:      true,
		BasePath:     t.TempDir(),
		BranchPrefix: "vk/exec/",
	}
}

// initTestRepo creates a throwaway git repository with a single commit on
// "main", returning its path.
func initTestRepo(t *testing.T) string {
	t.Helper()
	repoPath := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, output)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	if err := os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatalf("failed to write seed file: %v", err)
	}
	run("add", "README.md")
	run("commit", "-m", "initial")
	return repoPath
}

func TestNewManager(t *testing.T) {
	mgr, err := NewManager(newTestConfig(t), NewMemoryStore(), newTestLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if !mgr.IsEnabled() {
		t.Error("expected manager to be enabled")
	}
}

func TestNewManager_DisabledConfig(t *testing.T) {
	cfg := Config{Enabled: false, BasePath: t.TempDir()}
	mgr, err := NewManager(cfg, NewMemoryStore(), newTestLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if mgr.IsEnabled() {
		t.Error("expected manager to be disabled")
	}
}

func TestManager_IsValid(t *testing.T) {
	mgr, err := NewManager(newTestConfig(t), NewMemoryStore(), newTestLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if mgr.IsValid("/nonexistent/path") {
		t.Error("expected false for non-existent path")
	}

	worktreePath := filepath.Join(t.TempDir(), "wt")
	if err := os.MkdirAll(worktreePath, 0755); err != nil {
		t.Fatalf("failed to create test dir: %v", err)
	}
	if mgr.IsValid(worktreePath) {
		t.Error("expected false for directory without .git file")
	}

	gitFile := filepath.Join(worktreePath, ".git")
	if err := os.WriteFile(gitFile, []byte("gitdir: /some/path/.git/worktrees/test"), 0644); err != nil {
		t.Fatalf("failed to create .git file: %v", err)
	}
	if !mgr.IsValid(worktreePath) {
		t.Error("expected true for valid worktree directory")
	}
}

func TestManager_CreateAndDestroy(t *testing.T) {
	ctx := context.Background()
	repoPath := initTestRepo(t)
	mgr, err := NewManager(newTestConfig(t), NewMemoryStore(), newTestLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	req := CreateRequest{
		ExecutionID:    "exec-0123456789ab",
		TaskID:         "task-1",
		TaskTitle:      "Fix login bug",
		ProjectID:      "proj-1",
		RepositoryPath: repoPath,
		BaseBranch:     "main",
	}

	wt, err := mgr.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if wt.Branch != mgr.config.BranchName(req.ExecutionID) {
		t.Errorf("expected deterministic branch name %q, got %q", mgr.config.BranchName(req.ExecutionID), wt.Branch)
	}
	if !mgr.IsValid(wt.Path) {
		t.Errorf("expected created worktree at %q to be valid", wt.Path)
	}

	// Re-creating for the same execution reuses the existing worktree.
	again, err := mgr.Create(ctx, req)
	if err != nil {
		t.Fatalf("Create (idempotent) failed: %v", err)
	}
	if again.Path != wt.Path {
		t.Errorf("expected reuse of existing worktree path, got %q vs %q", again.Path, wt.Path)
	}

	if err := mgr.Destroy(ctx, req.ExecutionID); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := os.Stat(wt.Path); !os.IsNotExist(err) {
		t.Errorf("expected worktree directory to be removed, stat err = %v", err)
	}

	// Destroy is idempotent.
	if err := mgr.Destroy(ctx, req.ExecutionID); err != nil {
		t.Errorf("expected idempotent Destroy to succeed, got %v", err)
	}
}

func TestManager_ReconcileKeepsRecordedWorktrees(t *testing.T) {
	ctx := context.Background()
	repoPath := initTestRepo(t)
	cfg := newTestConfig(t)
	mgr, err := NewManager(cfg, NewMemoryStore(), newTestLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	wt, err := mgr.Create(ctx, CreateRequest{
		ExecutionID:    "exec-reconcile-1",
		TaskID:         "task-1",
		ProjectID:      "proj-1",
		RepositoryPath: repoPath,
		BaseBranch:     "main",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// An untracked directory in the base path is the residue of a crash
	// mid-creation; only it may be swept.
	untracked := filepath.Join(cfg.BasePath, "no-record-here")
	if err := os.MkdirAll(untracked, 0755); err != nil {
		t.Fatalf("failed to create untracked dir: %v", err)
	}

	if err := mgr.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if _, err := os.Stat(wt.Path); err != nil {
		t.Errorf("expected recorded worktree to survive restart reconciliation, stat err = %v", err)
	}
	if _, err := os.Stat(untracked); !os.IsNotExist(err) {
		t.Errorf("expected untracked directory to be removed, stat err = %v", err)
	}
}

func TestManager_CreateRejectsMissingBaseBranch(t *testing.T) {
	ctx := context.Background()
	repoPath := initTestRepo(t)
	mgr, err := NewManager(newTestConfig(t), NewMemoryStore(), newTestLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	req := CreateRequest{
		ExecutionID:    "exec-missing-base",
		TaskID:         "task-1",
		ProjectID:      "proj-1",
		RepositoryPath: repoPath,
		BaseBranch:     "does-not-exist",
	}

	if _, err := mgr.Create(ctx, req); err == nil {
		t.Fatal("expected error for missing base branch")
	}
}

func TestManager_CreateRejectsNonGitRepo(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(newTestConfig(t), NewMemoryStore(), newTestLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	req := CreateRequest{
		ExecutionID:    "exec-not-git",
		TaskID:         "task-1",
		ProjectID:      "proj-1",
		RepositoryPath: t.TempDir(),
		BaseBranch:     "main",
	}

	if _, err := mgr.Create(ctx, req); err != ErrRepoNotGit {
		t.Fatalf("expected ErrRepoNotGit, got %v", err)
	}
}

func TestBranchName_Deterministic(t *testing.T) {
	cfg := Config{BranchPrefix: "vk/exec/"}
	a := cfg.BranchName("exec-0123456789ab")
	b := cfg.BranchName("exec-0123456789ab")
	if a != b {
		t.Errorf("expected deterministic branch name, got %q and %q", a, b)
	}
	if a != "vk/exec/exec-0123456" {
		t.Errorf("unexpected branch name: %q", a)
	}
}

func TestSanitizeForBranch(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		maxLen   int
		expected string
	}{
		{"simple title", "Fix login bug", 20, "fix-login-bug"},
		{"title with special chars", "Fix: bug #123 (urgent!)", 20, "fix-bug-123-urgent"},
		{"title exceeding max length", "This is a very long task title that needs truncation", 20, "this-is-a-very-long"},
		{"title with consecutive spaces", "Fix   multiple   spaces", 20, "fix-multiple-spaces"},
		{"empty title", "", 20, ""},
		{"title starting and ending with special chars", "---Fix bug---", 20, "fix-bug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForBranch(tt.title, tt.maxLen); got != tt.expected {
				t.Errorf("SanitizeForBranch(%q, %d) = %q, want %q", tt.title, tt.maxLen, got, tt.expected)
			}
		})
	}
}
