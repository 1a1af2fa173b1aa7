// Package hostregistry implements the Host Registry: tracking
// connected worker hosts, their capabilities, heartbeats, and active task
// capacity, and selecting a host for a new execution.
package hostregistry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/kandev/internal/common/errors"
	"github.com/kandev/kandev/internal/common/logger"
	v1 "github.com/kandev/kandev/pkg/api/v1"
)

// Config configures liveness tracking.
type Config struct {
	HeartbeatInterval time.Duration
	LivenessWindow    time.Duration
}

// Registry is the in-process Host Registry. All mutations are serialised
// under a single lock; selection reads a consistent snapshot under the
// same lock.
type Registry struct {
	mu     sync.Mutex
	hosts  map[string]*v1.Host
	cfg    Config
	logger *logger.Logger
	now    func() time.Time
}

// NewRegistry constructs an empty Host Registry.
func NewRegistry(cfg Config, log *logger.Logger) *Registry {
	return &Registry{
		hosts:  make(map[string]*v1.Host),
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

// Register adds or replaces a host's capabilities, as sent in its
// register{capabilities} control frame. connectedAt is set to now on
// first registration and preserved across re-registration.
func (r *Registry) Register(id, name string, caps v1.HostCapabilities) *v1.Host {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	connectedAt := now
	var activeTaskIDs []string
	if existing, ok := r.hosts[id]; ok {
		connectedAt = existing.ConnectedAt
		activeTaskIDs = existing.ActiveTaskIDs
	}

	host := &v1.Host{
		ID:            id,
		Name:          name,
		Status:        v1.HostOnline,
		Capabilities:  caps,
		ActiveTaskIDs: activeTaskIDs,
		LastHeartbeat: now,
		ConnectedAt:   connectedAt,
	}
	r.hosts[id] = host

	r.logger.Info("host registered", zap.String("host_id", id), zap.String("name", name))
	return host.Clone()
}

// Heartbeat marks a host online and refreshes its liveness timestamp.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.hosts[id]
	if !ok {
		return errors.NotFound("host", id)
	}
	host.LastHeartbeat = r.now().UTC()
	if host.Status == v1.HostOffline {
		host.Status = v1.HostOnline
		r.logger.Info("host back online", zap.String("host_id", id))
	}
	return nil
}

// MarkOffline forces a host offline immediately, used when its control
// channel disconnects rather than waiting for the liveness sweep.
func (r *Registry) MarkOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.hosts[id]
	if !ok || host.Status == v1.HostOffline {
		return
	}
	host.Status = v1.HostOffline
	r.logger.Info("host marked offline", zap.String("host_id", id))
}

// SweepLiveness marks every host whose lastHeartbeat has aged out of the
// liveness window as offline. Intended to run on a periodic ticker.
func (r *Registry) SweepLiveness() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for _, host := range r.hosts {
		if host.Status == v1.HostOffline {
			continue
		}
		if now.Sub(host.LastHeartbeat) > r.cfg.LivenessWindow {
			host.Status = v1.HostOffline
			r.logger.Warn("host missed heartbeat, marking offline",
				zap.String("host_id", host.ID),
				zap.Duration("since_last_heartbeat", now.Sub(host.LastHeartbeat)))
		}
	}
}

// Get returns a snapshot of a host, or an error if unknown.
func (r *Registry) Get(id string) (*v1.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.hosts[id]
	if !ok {
		return nil, errors.NotFound("host", id)
	}
	return host.Clone(), nil
}

// List returns a snapshot of every registered host.
func (r *Registry) List() []*v1.Host {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*v1.Host, 0, len(r.hosts))
	for _, host := range r.hosts {
		out = append(out, host.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// ErrNoHostAvailable is returned by SelectHost when no eligible host exists.
var ErrNoHostAvailable = errors.PreconditionFailed("no host available")

// SelectHost chooses a host for agentType. If explicit is non-empty, it is
// validated and returned as-is (or rejected); otherwise the least-loaded
// eligible host is chosen, ties broken by earliest connectedAt.
func (r *Registry) SelectHost(agentType v1.AgentType, explicit string) (*v1.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if explicit != "" {
		host, ok := r.hosts[explicit]
		if !ok {
			return nil, errors.NotFound("host", explicit)
		}
		if host.Status != v1.HostOnline && host.Status != v1.HostBusy {
			return nil, errors.PreconditionFailed("host " + explicit + " is offline")
		}
		if !host.Capabilities.Supports(agentType) {
			return nil, errors.PreconditionFailed("host " + explicit + " does not support " + string(agentType))
		}
		if host.AtCapacity() {
			return nil, errors.PreconditionFailed("host " + explicit + " is at capacity")
		}
		return host.Clone(), nil
	}

	var best *v1.Host
	for _, host := range r.hosts {
		if host.Status != v1.HostOnline && host.Status != v1.HostBusy {
			continue
		}
		if !host.Capabilities.Supports(agentType) {
			continue
		}
		if host.AtCapacity() {
			continue
		}
		if best == nil {
			best = host
			continue
		}
		if host.LoadRatio() < best.LoadRatio() {
			best = host
			continue
		}
		if host.LoadRatio() == best.LoadRatio() && host.ConnectedAt.Before(best.ConnectedAt) {
			best = host
		}
	}

	if best == nil {
		return nil, errors.Wrap(ErrNoHostAvailable, "selectHost")
	}
	return best.Clone(), nil
}

// Reserve adds taskID to a host's active set, rejecting if the host is
// offline or at capacity at the moment of the call. Atomic with the
// capacity check (both happen under the registry's single lock).
func (r *Registry) Reserve(hostID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.hosts[hostID]
	if !ok {
		return errors.NotFound("host", hostID)
	}
	if host.Status == v1.HostOffline {
		return errors.PreconditionFailed("host " + hostID + " is offline")
	}
	if host.AtCapacity() {
		return errors.PreconditionFailed("host " + hostID + " is at capacity")
	}
	for _, id := range host.ActiveTaskIDs {
		if id == taskID {
			return nil // already reserved; idempotent
		}
	}

	host.ActiveTaskIDs = append(host.ActiveTaskIDs, taskID)
	if host.AtCapacity() {
		host.Status = v1.HostBusy
	}
	return nil
}

// Release removes taskID from a host's active set. Idempotent: releasing
// a task that isn't reserved is a no-op.
func (r *Registry) Release(hostID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.hosts[hostID]
	if !ok {
		return errors.NotFound("host", hostID)
	}

	for i, id := range host.ActiveTaskIDs {
		if id == taskID {
			host.ActiveTaskIDs = append(host.ActiveTaskIDs[:i], host.ActiveTaskIDs[i+1:]...)
			break
		}
	}
	if !host.AtCapacity() && host.Status == v1.HostBusy {
		host.Status = v1.HostOnline
	}
	return nil
}
