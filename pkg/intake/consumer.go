// Package intake turns webhook payloads queued on a Redis list into executions.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/scheduler"
	redis "github.com/redis/go-redis/v9"
)

const (
	popTimeout   = time.Second
	errorBackoff = time.Second
)

// Client is the part of the Redis API the consumer uses.
type Client interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
}

type Enqueuer interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (string, error)
}

// Message is the JSON document producers push onto the intake list.
type Message struct {
	WorkflowID string          `json:"workflow_id"`
	Input      map[string]any  `json:"input"`
	Priority   models.Priority `json:"priority"`
}

type Consumer struct {
	client   Client
	queue    string
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewClient connects to redisURL, e.g. redis://:password@localhost:6379/0.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func New(client Client, queue string, enqueuer Enqueuer, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:   client,
		queue:    queue,
		enqueuer: enqueuer,
		logger:   logger.With("module", "intake", "queue", queue),
	}
}

// Run consumes until ctx is canceled or the scheduler closes.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Starting intake consumer")

	for ctx.Err() == nil {
		err := c.processMessage(ctx)

		switch {
		case err == nil:
		case errors.Is(err, scheduler.ErrClosed):
			c.logger.InfoContext(ctx, "Scheduler closed, stopping intake consumer")

			return nil
		case ctx.Err() != nil:
		default:
			c.logger.ErrorContext(ctx, "Error processing message", "error", err)

			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
		}
	}

	c.logger.InfoContext(ctx, "Intake consumer stopped")

	return nil
}

func (c *Consumer) processMessage(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, popTimeout, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	return c.handle(ctx, result[1])
}

func (c *Consumer) handle(ctx context.Context, payload string) error {
	var message Message

	err := json.Unmarshal([]byte(payload), &message)
	if err != nil {
		c.logger.WarnContext(ctx, "Dropping malformed intake message", "error", err, "payload", payload)

		return nil
	}

	id, err := c.enqueuer.Enqueue(ctx, scheduler.EnqueueRequest{
		WorkflowID: message.WorkflowID,
		Input:      message.Input,
		Priority:   message.Priority,
		Mode:       models.ExecutionModeWebhook,
	})

	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "Webhook execution enqueued", "execution_id", id, "workflow_id", message.WorkflowID)

		return nil
	case errors.Is(err, scheduler.ErrInvalidRequest):
		c.logger.WarnContext(ctx, "Dropping invalid intake message", "error", err, "payload", payload)

		return nil
	default:
		// Put it back at the head so the next pop retries it first.
		pushErr := c.client.LPush(context.WithoutCancel(ctx), c.queue, payload).Err()
		if pushErr != nil {
			c.logger.ErrorContext(ctx, "Intake message lost", "error", pushErr, "payload", payload)
		}

		return err
	}
}
