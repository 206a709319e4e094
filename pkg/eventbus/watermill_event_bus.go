package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/flowmedic/pkg/events"
)

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	mu            sync.RWMutex
	subscriptions map[events.EventType][]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType][]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			eb.mu.RLock()
			handlers := eb.subscriptions[eventType]
			eb.mu.RUnlock()

			if len(handlers) == 0 {
				msg.Ack()

				continue
			}

			event := newEvent(eventType)
			if event == nil {
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				msg.Nack()

				continue
			}

			failed := false

			for _, handler := range handlers {
				if err := handler(msg.Context(), event); err != nil {
					failed = true
				}
			}

			if failed {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

// Handle registers handler for eventType. Several handlers may observe the same type.
func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = append(eb.subscriptions[eventType], handler)

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}

func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.ExecutionQueuedEvent:
		return &events.ExecutionQueued{}
	case events.ExecutionRunningEvent:
		return &events.ExecutionRunning{}
	case events.ExecutionTerminalEvent:
		return &events.ExecutionTerminal{}
	case events.HealingSuccessEvent:
		return &events.HealingSuccess{}
	case events.HealingFailureEvent:
		return &events.HealingFailure{}
	case events.HealingMaxRetriesEvent:
		return &events.HealingMaxRetries{}
	case events.HealingSuggestedEvent:
		return &events.HealingSuggested{}
	case events.HealingInconsistentEvent:
		return &events.HealingInconsistent{}
	case events.AlertTriggeredEvent:
		return &events.AlertTriggered{}
	default:
		return nil
	}
}
