package registry

import (
	"testing"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

func TestLoadDefaults_CoversEveryAgentType(t *testing.T) {
	r := NewRegistry()
	r.LoadDefaults()

	for _, at := range []v1.AgentType{v1.AgentTypeOpenCode, v1.AgentTypeClaudeCode, v1.AgentTypeCodex, v1.AgentTypeGeminiCLI, v1.AgentTypeCustom} {
		cfg, ok := r.ForAgentType(at)
		if !ok {
			t.Fatalf("expected a sandbox config for agent type %s", at)
		}
		if cfg.Image == "" {
			t.Fatalf("agent type %s: expected non-empty image", at)
		}
	}
}

func TestRegister_OverridesDefault(t *testing.T) {
	r := NewRegistry()
	r.LoadDefaults()

	custom := &AgentTypeConfig{ID: "opencode", Image: "myorg/opencode", Tag: "v2", AgentType: v1.AgentTypeOpenCode}
	r.Register(custom)

	cfg, ok := r.ForAgentType(v1.AgentTypeOpenCode)
	if !ok {
		t.Fatal("expected overridden config to still resolve")
	}
	if cfg.ImageRef() != "myorg/opencode:v2" {
		t.Fatalf("expected overridden image ref, got %s", cfg.ImageRef())
	}
}

func TestImageRef_NoTag(t *testing.T) {
	cfg := &AgentTypeConfig{Image: "kandev/custom-agent"}
	if cfg.ImageRef() != "kandev/custom-agent" {
		t.Fatalf("expected bare image when tag is empty, got %s", cfg.ImageRef())
	}
}

func TestGet_UnknownIDNotFound(t *testing.T) {
	r := NewRegistry()
	r.LoadDefaults()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected Get to report not found for an unregistered ID")
	}
}

func TestList_ReturnsAllRegistered(t *testing.T) {
	r := NewRegistry()
	r.LoadDefaults()
	if len(r.List()) != len(DefaultAgents()) {
		t.Fatalf("expected %d configs, got %d", len(DefaultAgents()), len(r.List()))
	}
}
