package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/scheduler"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu    sync.Mutex
	items []string
}

func (f *fakeRedis) BLPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	f.mu.Lock()

	if len(f.items) == 0 {
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return redis.NewStringSliceResult(nil, ctx.Err())
		case <-time.After(5 * time.Millisecond):
			return redis.NewStringSliceResult(nil, redis.Nil)
		}
	}

	item := f.items[0]
	f.items = f.items[1:]
	f.mu.Unlock()

	return redis.NewStringSliceResult([]string{keys[0], item}, nil)
}

func (f *fakeRedis) LPush(_ context.Context, _ string, values ...any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, value := range values {
		f.items = append([]string{value.(string)}, f.items...)
	}

	return redis.NewIntResult(int64(len(f.items)), nil)
}

func (f *fakeRedis) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.items)
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	requests []scheduler.EnqueueRequest
	fail     func(req scheduler.EnqueueRequest) error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req scheduler.EnqueueRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return "", err
		}
	}

	f.requests = append(f.requests, req)

	return "exec-" + req.WorkflowID, nil
}

func (f *fakeEnqueuer) snapshot() []scheduler.EnqueueRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]scheduler.EnqueueRequest(nil), f.requests...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumer_EnqueuesWebhookExecutions(t *testing.T) {
	client := &fakeRedis{items: []string{
		`{"workflow_id":"wf-1","input":{"order":42},"priority":"urgent"}`,
		`not json`,
		`{"input":{}}`,
		`{"workflow_id":"wf-2"}`,
	}}
	enqueuer := &fakeEnqueuer{fail: func(req scheduler.EnqueueRequest) error {
		if req.WorkflowID == "" {
			return scheduler.ErrInvalidRequest
		}

		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- New(client, "intake", enqueuer, discard()).Run(ctx) }()

	require.Eventually(t, func() bool { return len(enqueuer.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	requests := enqueuer.snapshot()
	assert.Equal(t, "wf-1", requests[0].WorkflowID)
	assert.Equal(t, models.PriorityUrgent, requests[0].Priority)
	assert.Equal(t, models.ExecutionModeWebhook, requests[0].Mode)
	assert.InDelta(t, 42, requests[0].Input["order"], 0)
	assert.Equal(t, "wf-2", requests[1].WorkflowID)
	assert.Zero(t, client.len())
}

func TestConsumer_RequeuesOnStoreFailure(t *testing.T) {
	client := &fakeRedis{}
	enqueuer := &fakeEnqueuer{fail: func(scheduler.EnqueueRequest) error { return errors.New("disk full") }}
	consumer := New(client, "intake", enqueuer, discard())

	err := consumer.handle(context.Background(), `{"workflow_id":"wf-1"}`)
	require.Error(t, err)
	assert.Equal(t, 1, client.len())
}

func TestConsumer_StopsWhenSchedulerCloses(t *testing.T) {
	client := &fakeRedis{items: []string{`{"workflow_id":"wf-1"}`}}
	enqueuer := &fakeEnqueuer{fail: func(scheduler.EnqueueRequest) error { return scheduler.ErrClosed }}

	err := New(client, "intake", enqueuer, discard()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, client.len())
}
