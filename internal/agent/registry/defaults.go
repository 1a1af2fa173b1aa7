package registry

import v1 "github.com/kandev/kandev/pkg/api/v1"

// DefaultAgents returns the built-in sandbox image configuration for each
// supported agent type. Images follow the "kandev/<agent>-agent:latest"
// naming convention; operators can override via Registry.Register.
func DefaultAgents() []*AgentTypeConfig {
	return []*AgentTypeConfig{
		{
			ID:          "opencode",
			Name:        "OpenCode",
			Description: "OpenCode CLI run in HTTP-server mode, driven over its REST+SSE API.",
			Image:       "kandev/opencode-agent",
			Tag:         "latest",
			WorkingDir:  "/workspace",
			RequiredEnv: []string{},
			Mounts: []MountTemplate{
				{Source: "{workspace}", Target: "/workspace", ReadOnly: false},
			},
			ResourceLimits: ResourceLimits{MemoryMB: 4096, CPUCores: 2.0, TimeoutSeconds: 3600},
			Capabilities:   []string{"code_generation", "code_review", "refactoring", "testing", "shell_execution"},
			Enabled:        true,
			AgentType:      v1.AgentTypeOpenCode,
		},
		{
			ID:          "claude-code",
			Name:        "Claude Code",
			Description: "Claude Code CLI, driven as a line-oriented stdout subprocess. Requires ANTHROPIC_API_KEY.",
			Image:       "kandev/claude-code-agent",
			Tag:         "latest",
			WorkingDir:  "/workspace",
			RequiredEnv: []string{"ANTHROPIC_API_KEY"},
			Mounts: []MountTemplate{
				{Source: "{workspace}", Target: "/workspace", ReadOnly: false},
			},
			ResourceLimits: ResourceLimits{MemoryMB: 4096, CPUCores: 2.0, TimeoutSeconds: 3600},
			Capabilities:   []string{"code_generation", "code_review", "refactoring", "testing", "shell_execution"},
			Enabled:        true,
			AgentType:      v1.AgentTypeClaudeCode,
		},
		{
			ID:          "codex",
			Name:        "Codex CLI",
			Description: "OpenAI Codex CLI, driven as a line-oriented stdout subprocess. Requires OPENAI_API_KEY.",
			Image:       "kandev/codex-agent",
			Tag:         "latest",
			WorkingDir:  "/workspace",
			RequiredEnv: []string{"OPENAI_API_KEY"},
			Mounts: []MountTemplate{
				{Source: "{workspace}", Target: "/workspace", ReadOnly: false},
			},
			ResourceLimits: ResourceLimits{MemoryMB: 4096, CPUCores: 2.0, TimeoutSeconds: 3600},
			Capabilities:   []string{"code_generation", "code_review", "refactoring", "testing", "shell_execution"},
			Enabled:        true,
			AgentType:      v1.AgentTypeCodex,
		},
		{
			ID:          "gemini-cli",
			Name:        "Gemini CLI",
			Description: "Google Gemini CLI, driven as a line-oriented stdout subprocess. Requires GEMINI_API_KEY.",
			Image:       "kandev/gemini-cli-agent",
			Tag:         "latest",
			WorkingDir:  "/workspace",
			RequiredEnv: []string{"GEMINI_API_KEY"},
			Mounts: []MountTemplate{
				{Source: "{workspace}", Target: "/workspace", ReadOnly: false},
			},
			ResourceLimits: ResourceLimits{MemoryMB: 4096, CPUCores: 2.0, TimeoutSeconds: 3600},
			Capabilities:   []string{"code_generation", "code_review", "refactoring", "testing", "shell_execution"},
			Enabled:        true,
			AgentType:      v1.AgentTypeGeminiCLI,
		},
		{
			ID:          "custom",
			Name:        "Custom Agent",
			Description: "A bring-your-own agent binary speaking the same line-oriented stdout protocol as the built-in CLIs.",
			Image:       "kandev/custom-agent",
			Tag:         "latest",
			WorkingDir:  "/workspace",
			RequiredEnv: []string{},
			Mounts: []MountTemplate{
				{Source: "{workspace}", Target: "/workspace", ReadOnly: false},
			},
			ResourceLimits: ResourceLimits{MemoryMB: 2048, CPUCores: 1.0, TimeoutSeconds: 3600},
			Capabilities:   []string{"code_generation"},
			Enabled:        false,
			AgentType:      v1.AgentTypeCustom,
		},
	}
}
