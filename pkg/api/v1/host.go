package v1

import "time"

// HostStatus is the liveness state of a registered worker host.
type HostStatus string

const (
	HostOnline  HostStatus = "online"
	HostBusy    HostStatus = "busy"
	HostOffline HostStatus = "offline"
)

// HostCapabilities describes what a host can run and how much of it.
type HostCapabilities struct {
	SupportedAgents []AgentType `json:"supported_agents"`
	MaxConcurrent   int         `json:"max_concurrent"`
	Cwd             string      `json:"cwd,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
}

// Supports reports whether the host advertises support for agentType.
func (c HostCapabilities) Supports(agentType AgentType) bool {
	for _, a := range c.SupportedAgents {
		if a == agentType {
			return true
		}
	}
	return false
}

// Host is a connected worker machine offering execution capacity.
type Host struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Status        HostStatus       `json:"status"`
	Capabilities  HostCapabilities `json:"capabilities"`
	ActiveTaskIDs []string         `json:"active_task_ids"`
	LastHeartbeat time.Time        `json:"last_heartbeat"`
	ConnectedAt   time.Time        `json:"connected_at"`
}

// Clone returns a value-safe copy for cross-goroutine reads.
func (h *Host) Clone() *Host {
	if h == nil {
		return nil
	}
	cp := *h
	cp.ActiveTaskIDs = append([]string(nil), h.ActiveTaskIDs...)
	cp.Capabilities.SupportedAgents = append([]AgentType(nil), h.Capabilities.SupportedAgents...)
	return &cp
}

// AtCapacity reports whether the host has no spare execution slots.
func (h *Host) AtCapacity() bool {
	return h.Capabilities.MaxConcurrent > 0 && len(h.ActiveTaskIDs) >= h.Capabilities.MaxConcurrent
}

// LoadRatio is used for least-loaded host selection; hosts with zero
// capacity sort last by reporting a ratio of 1.
func (h *Host) LoadRatio() float64 {
	if h.Capabilities.MaxConcurrent <= 0 {
		return 1
	}
	return float64(len(h.ActiveTaskIDs)) / float64(h.Capabilities.MaxConcurrent)
}

// AgentModel describes a model a host's agent runtime can drive, returned
// by GET /api/hosts/{hostId}/models.
type AgentModel struct {
	AgentType AgentType `json:"agent_type"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider,omitempty"`
}
