package bus

import (
	"github.com/kandev/kandev/internal/common/config"
	"github.com/kandev/kandev/internal/common/logger"
)

// Provide selects an EventBus implementation: NATS when a URL is
// configured, otherwise the in-process bus (the default for a single-binary
// deployment or local development).
func Provide(cfg *config.Config, log *logger.Logger) (EventBus, error) {
	if cfg.NATS.URL == "" {
		log.Info("using in-process event bus")
		return NewMemoryEventBus(), nil
	}

	log.Info("connecting to nats event bus")
	return NewNATSEventBus(cfg.NATS, log)
}
