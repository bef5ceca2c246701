// Package bus carries execution lifecycle events to interested listeners,
// either in process or over NATS.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle notification. Data holds event-specific fields
// such as execution_id and exit_code.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent stamps a fresh ID and the current UTC time.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type EventHandler func(ctx context.Context, event *Event) error

// Subscription is released with Unsubscribe.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes to and subscribes on dot-separated subjects. Patterns
// follow NATS rules: * matches one token and > the rest.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}
