package eventbus

import (
	"context"
	"log/slog"

	"github.com/dukex/flowmedic/pkg/metrics"
)

// Notifier publishes events on behalf of components whose own operation must never
// fail because of the event sink. Publish errors are logged and counted.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewNotifier(publisher Publisher, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		publisher: publisher,
		logger:    logger.With("module", "notifier"),
		metrics:   m,
	}
}

// Notify publishes event under key. It never returns an error.
func (n *Notifier) Notify(ctx context.Context, key string, event Event) {
	if n == nil || n.publisher == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			n.logger.ErrorContext(ctx, "Event publisher panicked", "event_type", event.GetType(), "panic", r)
			n.metrics.EventDropped(string(event.GetType()))
		}
	}()

	err := n.publisher.Publish(ctx, key, event)
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "key", key, "error", err)
		n.metrics.EventDropped(string(event.GetType()))
	}
}
