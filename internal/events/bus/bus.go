// Package bus provides a publish/subscribe abstraction over either an
// in-process channel fan-out or NATS, used to move ExecutionEvents and
// host/agent lifecycle notifications between gateway components.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event is an envelope published on the bus. Subject follows NATS-style
// dot-separated tokens (e.g. "execution.<id>.event").
type Event struct {
	ID        string
	Subject   string
	Data      []byte
	Timestamp time.Time
}

// NewEvent constructs an Event with a generated ID and current timestamp.
func NewEvent(subject string, data []byte) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// EventHandler processes a delivered Event.
type EventHandler func(*Event)

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
}

// EventBus is the publish/subscribe contract both backends satisfy.
type EventBus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)
	Close() error
}
