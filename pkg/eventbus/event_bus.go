// Package eventbus provides the fan-out event sink for execution and healing lifecycle events.
package eventbus

import (
	"context"

	"github.com/dukex/flowmedic/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// Publisher is the only contract producers depend on. The key orders events:
// events sharing a key are delivered in publish order.
type Publisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type Subscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	Publisher
	Subscriber
	Close() error
	GenerateID() string
}
