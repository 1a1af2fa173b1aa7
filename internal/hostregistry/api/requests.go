// Package api provides HTTP handlers for the Host Registry's REST
// surface: listing connected hosts and discovering the models a host's
// agent runtime can drive.
package api

import (
	"time"

	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// HostResponse represents a host in API responses.
type HostResponse struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Status        v1.HostStatus      `json:"status"`
	Capabilities  v1.HostCapabilities `json:"capabilities"`
	ActiveTaskIDs []string           `json:"active_task_ids"`
	LastHeartbeat time.Time          `json:"last_heartbeat"`
	ConnectedAt   time.Time          `json:"connected_at"`
}

func hostToResponse(h *v1.Host) *HostResponse {
	return &HostResponse{
		ID:            h.ID,
		Name:          h.Name,
		Status:        h.Status,
		Capabilities:  h.Capabilities,
		ActiveTaskIDs: h.ActiveTaskIDs,
		LastHeartbeat: h.LastHeartbeat,
		ConnectedAt:   h.ConnectedAt,
	}
}

// HostsListResponse lists connected hosts.
type HostsListResponse struct {
	Hosts []*HostResponse `json:"hosts"`
}

// ModelsResponse lists the models a host's agent runtime can drive.
type ModelsResponse struct {
	Models []v1.AgentModel `json:"models"`
}
