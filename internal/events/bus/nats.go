package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kandev/kandev/internal/common/config"
	"github.com/kandev/kandev/internal/common/logger"
)

// NATSEventBus publishes and subscribes through a NATS connection. It is
// selected over MemoryEventBus whenever config.NATSConfig.URL is set,
// letting the gateway fan events out to multiple processes (e.g. a
// separately-deployed websocket edge) instead of only within one binary.
type NATSEventBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

// NewNATSEventBus connects to the configured NATS server.
func NewNATSEventBus(cfg config.NATSConfig, log *logger.Logger) (*NATSEventBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}

	return &NATSEventBus{conn: conn, logger: log}, nil
}

func (b *NATSEventBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *NATSEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Event{Subject: msg.Subject, Data: msg.Data, Timestamp: time.Now()})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Event{Subject: msg.Subject, Data: msg.Data, Timestamp: time.Now()})
	})
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %s (queue %s): %w", subject, queue, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (b *NATSEventBus) Close() error {
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
