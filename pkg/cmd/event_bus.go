// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowmedic/pkg/channels/gochannel"
	"github.com/dukex/flowmedic/pkg/channels/kafka"
	"github.com/dukex/flowmedic/pkg/eventbus"
	"github.com/dukex/flowmedic/pkg/log"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// NewEventBus builds the event bus for provider ("memory" or "kafka").
func NewEventBus(provider string, brokers []string, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	adapter := log.Watermill(logger.With("module", "watermill"))

	switch provider {
	case "memory", "":
		pubSub := gochannel.CreateChannel(adapter, gochannel.Options{})

		return eventbus.NewWatermillEventBus(pubSub, pubSub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(adapter, brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("%w: event bus %q", ErrUnsupportedProvider, provider)
	}
}
