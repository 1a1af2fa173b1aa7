package hostregistry

import (
	"context"
	"time"

	"github.com/kandev/kandev/internal/common/config"
	"github.com/kandev/kandev/internal/common/logger"
)

// Provide constructs a Registry from gateway configuration and starts its
// liveness sweep loop, stopping it when ctx is cancelled.
func Provide(ctx context.Context, cfg *config.Config, log *logger.Logger) *Registry {
	reg := NewRegistry(Config{
		HeartbeatInterval: cfg.HostRegistry.HeartbeatInterval,
		LivenessWindow:    cfg.HostRegistry.LivenessWindow,
	}, log)

	go reg.runLivenessSweep(ctx)
	return reg
}

// runLivenessSweep periodically marks hosts offline once their heartbeat
// ages past the liveness window. The sweep interval is half the liveness
// window (floored at 1s) so a missed heartbeat is detected promptly
// without a tight busy loop.
func (r *Registry) runLivenessSweep(ctx context.Context) {
	interval := r.cfg.LivenessWindow / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.SweepLiveness()
		case <-ctx.Done():
			return
		}
	}
}
