package hostregistry

import v1 "github.com/kandev/kandev/pkg/api/v1"

// defaultModelCatalog is the well-known model list per agent type, used
// by GET /api/hosts/{id}/models as the fallback when no live per-host
// model discovery call is wired (see internal/hostregistry/api.Models).
var defaultModelCatalog = map[v1.AgentType][]v1.AgentModel{
	v1.AgentTypeOpenCode: {
		{AgentType: v1.AgentTypeOpenCode, Provider: "anthropic", Model: "claude-sonnet-4-5"},
		{AgentType: v1.AgentTypeOpenCode, Provider: "openai", Model: "gpt-5"},
	},
	v1.AgentTypeClaudeCode: {
		{AgentType: v1.AgentTypeClaudeCode, Provider: "anthropic", Model: "claude-opus-4-1"},
		{AgentType: v1.AgentTypeClaudeCode, Provider: "anthropic", Model: "claude-sonnet-4-5"},
	},
	v1.AgentTypeCodex: {
		{AgentType: v1.AgentTypeCodex, Provider: "openai", Model: "gpt-5-codex"},
	},
	v1.AgentTypeGeminiCLI: {
		{AgentType: v1.AgentTypeGeminiCLI, Provider: "google", Model: "gemini-2.5-pro"},
	},
}

// DefaultModels returns the well-known model catalog for agentType, or
// nil if the gateway has no built-in catalog entry for it (e.g.
// agentType=custom, whose model list is entirely host-defined).
func DefaultModels(agentType v1.AgentType) []v1.AgentModel {
	return defaultModelCatalog[agentType]
}
