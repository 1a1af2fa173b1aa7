package factory

import (
	"testing"
	"time"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

func TestFactory_New_UnsupportedAgentType(t *testing.T) {
	f := NewFactory(nil, nil, false, Timeouts{Warmup: time.Second, IdleTimeout: time.Second, AbortGrace: time.Second}, nil)
	if _, err := f.New(v1.AgentType("not-a-real-type")); err == nil {
		t.Fatal("expected an error for an unsupported agent type")
	}
}

func TestFactory_New_EveryKnownAgentTypeResolves(t *testing.T) {
	f := NewFactory(nil, nil, false, Timeouts{Warmup: time.Second, IdleTimeout: time.Second, AbortGrace: time.Second}, nil)
	for _, at := range []v1.AgentType{v1.AgentTypeOpenCode, v1.AgentTypeClaudeCode, v1.AgentTypeCodex, v1.AgentTypeGeminiCLI, v1.AgentTypeCustom} {
		if _, err := f.New(at); err != nil {
			t.Fatalf("agent type %s: unexpected error %v", at, err)
		}
	}
}
