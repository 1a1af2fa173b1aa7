// Package registry holds the Docker image configuration for each
// sandboxed agent type: which image/tag to run, required environment
// variables, bind mounts, and resource limits. It is consulted by the
// docker-backed launch path of the Agent Adapter when an execution
// runs its agent inside a container rather than as a bare subprocess.
package registry

import (
	"sync"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// MountTemplate describes a bind mount with placeholders ({workspace})
// resolved by the caller at container-create time.
type MountTemplate struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ResourceLimits bounds a sandboxed agent container.
type ResourceLimits struct {
	MemoryMB       int
	CPUCores       float64
	TimeoutSeconds int
}

// AgentTypeConfig is the Docker-sandbox configuration for one agent type.
type AgentTypeConfig struct {
	ID             string
	Name           string
	Description    string
	Image          string
	Tag            string
	WorkingDir     string
	RequiredEnv    []string
	Mounts         []MountTemplate
	ResourceLimits ResourceLimits
	Capabilities   []string
	Enabled        bool

	// AgentType ties this config to the Task Store's agentType enum so
	// the docker launch path can look it up by what a task actually
	// requested.
	AgentType v1.AgentType
}

// ImageRef returns the fully qualified "image:tag" reference.
func (c *AgentTypeConfig) ImageRef() string {
	if c.Tag == "" {
		return c.Image
	}
	return c.Image + ":" + c.Tag
}

// Registry is a concurrency-safe lookup of AgentTypeConfig, keyed both by
// its own ID and by the v1.AgentType it serves.
type Registry struct {
	mu          sync.RWMutex
	byID        map[string]*AgentTypeConfig
	byAgentType map[v1.AgentType]*AgentTypeConfig
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:        make(map[string]*AgentTypeConfig),
		byAgentType: make(map[v1.AgentType]*AgentTypeConfig),
	}
}

// Register adds or replaces a config.
func (r *Registry) Register(cfg *AgentTypeConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[cfg.ID] = cfg
	if cfg.AgentType != "" {
		r.byAgentType[cfg.AgentType] = cfg
	}
}

// LoadDefaults registers the built-in per-agent-type sandbox images.
func (r *Registry) LoadDefaults() {
	for _, cfg := range DefaultAgents() {
		r.Register(cfg)
	}
}

// Get looks up a config by its ID.
func (r *Registry) Get(id string) (*AgentTypeConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byID[id]
	return cfg, ok
}

// ForAgentType looks up the sandbox config for a v1.AgentType.
func (r *Registry) ForAgentType(agentType v1.AgentType) (*AgentTypeConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byAgentType[agentType]
	return cfg, ok
}

// List returns every registered config.
func (r *Registry) List() []*AgentTypeConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*AgentTypeConfig, 0, len(r.byID))
	for _, cfg := range r.byID {
		out = append(out, cfg)
	}
	return out
}
