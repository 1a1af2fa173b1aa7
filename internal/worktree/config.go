package worktree

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// Config holds configuration for the worktree manager.
type Config struct {
	// Enabled is reported by Manager.IsEnabled. Manager.Create does not
	// consult it; a worktree is created either way.
	Enabled bool `mapstructure:"enabled"`

	// BasePath is the base directory under which worktree directories are
	// created. Supports ~ expansion. Default: ~/.kandev/worktrees
	BasePath string `mapstructure:"base_path"`

	// BranchPrefix is the prefix used for the deterministic execution branch
	// name. Default: "vk/exec/".
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// DefaultBranchPrefix matches the deterministic branch naming convention.
const DefaultBranchPrefix = "vk/exec/"

// Validate fills in defaults and returns an error if the config is unusable.
func (c *Config) Validate() error {
	if c.BranchPrefix == "" {
		c.BranchPrefix = DefaultBranchPrefix
	}
	if c.BasePath == "" {
		c.BasePath = "~/.kandev/worktrees"
	}
	return nil
}

// ExpandedBasePath returns BasePath with a leading ~ expanded to the user's
// home directory.
func (c *Config) ExpandedBasePath() (string, error) {
	path := c.BasePath
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

// WorktreePath returns the full directory path for a worktree given its
// filesystem directory name.
func (c *Config) WorktreePath(dirName string) (string, error) {
	basePath, err := c.ExpandedBasePath()
	if err != nil {
		return "", err
	}
	return filepath.Join(basePath, dirName), nil
}

// shortID truncates an ID to the given length, leaving it unchanged if it is
// already shorter.
func shortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}

// BranchName returns the deterministic branch name for an execution: the
// configured prefix plus a short, stable slice of the execution ID. Same
// executionID always yields the same branch name, satisfying the one
// worktree per execution invariant.
func (c *Config) BranchName(executionID string) string {
	return c.BranchPrefix + shortID(executionID, 12)
}

// dirNameForExecution derives a readable worktree directory name: an
// optional sanitized task title prefix plus the full execution ID, so the
// directory is unique even though the branch name truncates it.
func dirNameForExecution(executionID, taskTitle string) string {
	if taskTitle == "" {
		return executionID
	}
	sanitized := SanitizeForBranch(taskTitle, 24)
	if sanitized == "" {
		return executionID
	}
	return sanitized + "_" + executionID
}

// SanitizeForBranch converts free text into a valid git ref name component:
// lowercased, non-alphanumeric runs collapsed to a single hyphen, trimmed to
// maxLen, with leading/trailing hyphens removed.
func SanitizeForBranch(title string, maxLen int) string {
	if title == "" {
		return ""
	}

	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('-')
		}
	}
	result := sb.String()

	result = regexp.MustCompile(`-+`).ReplaceAllString(result, "-")
	result = strings.Trim(result, "-")

	if len(result) > maxLen {
		result = strings.TrimRight(result[:maxLen], "-")
	}

	return result
}
