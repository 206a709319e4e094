// Package worker runs the fixed-size pool that dispatches queued executions to the engine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/flowmedic/pkg/engine"
	"github.com/dukex/flowmedic/pkg/lifecycle"
	"github.com/dukex/flowmedic/pkg/metrics"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/otelhelper"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/dukex/flowmedic/pkg/scheduler"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval     = 2 * time.Second
	DefaultExecutionTimeout = 5 * time.Minute
)

// Queue is the part of the scheduler a worker drives.
type Queue interface {
	Next(ctx context.Context) (*scheduler.Job, error)
	MarkRunning(ctx context.Context, job *scheduler.Job) error
	Requeue(ctx context.Context, job *scheduler.Job, cause *models.ExecutionError) error
	Complete(ctx context.Context, executionID string, from models.ExecutionStatus, trigger lifecycle.Trigger, apply func(*models.Execution)) (*models.Execution, error)
}

type Config struct {
	Size             int
	PollInterval     time.Duration
	ExecutionTimeout time.Duration
	// WaitForCompletion=false treats the engine accepting a run as success.
	WaitForCompletion bool
}

type Pool struct {
	config  Config
	queue   Queue
	engine  engine.Client
	store   persistence.ExecutionRepository
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewPool(
	config Config,
	queue Queue,
	client engine.Client,
	store persistence.ExecutionRepository,
	m *metrics.Metrics,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = DefaultExecutionTimeout
	}

	return &Pool{
		config:  config,
		queue:   queue,
		engine:  client,
		store:   store,
		metrics: m,
		tracer:  tracer,
		logger:  logger.With("module", "worker"),
	}
}

// Run blocks until ctx ends or the queue closes.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting worker pool", "size", p.config.Size)

	g, ctx := errgroup.WithContext(ctx)

	for i := range p.config.Size {
		workerID := "worker-" + strconv.Itoa(i+1)

		g.Go(func() error {
			p.loop(ctx, workerID)

			return nil
		})
	}

	err := g.Wait()

	p.logger.InfoContext(context.WithoutCancel(ctx), "Worker pool stopped")

	return err
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	for {
		job, err := p.queue.Next(ctx)
		if err != nil {
			if !errors.Is(err, scheduler.ErrClosed) && ctx.Err() == nil {
				p.logger.ErrorContext(ctx, "Failed to take next job", "worker_id", workerID, "error", err)
			}

			return
		}

		p.process(ctx, workerID, job)
	}
}

func (p *Pool) process(ctx context.Context, workerID string, job *scheduler.Job) {
	logger := p.logger.With(
		"worker_id", workerID,
		"execution_id", job.ExecutionID,
		"workflow_id", job.WorkflowID,
		"attempt", job.Attempt,
	)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Worker panicked while processing job", "panic", r)
			p.complete(ctx, logger, job, lifecycle.TriggerFail, func(e *models.Execution) {
				e.Error = &models.ExecutionError{Message: fmt.Sprintf("worker panic: %v", r)}
			})
		}
	}()

	err := p.queue.MarkRunning(ctx, job)
	if err != nil {
		if !errors.Is(err, scheduler.ErrCanceled) {
			logger.ErrorContext(ctx, "Failed to mark execution running", "error", err)
		}

		return
	}

	// Canceling the job cancels every engine call made for it.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	unregister := context.AfterFunc(job.Context(), stop)
	defer unregister()

	runCtx, span := otelhelper.StartSpan(runCtx, p.tracer, "worker.dispatch",
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.PriorityKey, string(job.Priority)),
		attribute.Int(otelhelper.AttemptKey, job.Attempt),
		attribute.String(otelhelper.WorkerIDKey, workerID),
	)
	defer span.End()

	externalID, err := p.engine.ExecuteWorkflow(runCtx, job.WorkflowID, job.Input)
	if err != nil {
		otelhelper.SetError(span, err)
		p.dispatchFailed(ctx, logger, job, err)

		return
	}

	p.metrics.DispatchAttempt("accepted")
	span.SetAttributes(attribute.String(otelhelper.ExternalExecutionIDKey, externalID))

	if !p.config.WaitForCompletion {
		p.complete(ctx, logger, job, lifecycle.TriggerSucceed, func(e *models.Execution) {
			e.ExternalExecutionID = externalID
		})

		return
	}

	_, err = p.store.Update(ctx, job.ExecutionID, models.ExecutionStatusRunning, func(e *models.Execution) {
		e.ExternalExecutionID = externalID
	})
	if err != nil {
		logger.WarnContext(ctx, "Failed to record external execution id", "external_execution_id", externalID, "error", err)
	}

	p.poll(ctx, runCtx, logger, job, externalID)
}

func (p *Pool) dispatchFailed(ctx context.Context, logger *slog.Logger, job *scheduler.Job, err error) {
	if job.Canceled() {
		p.complete(ctx, logger, job, lifecycle.TriggerCancel, nil)

		return
	}

	if ctx.Err() != nil {
		logger.WarnContext(context.WithoutCancel(ctx), "Shutdown interrupted dispatch, execution left running", "error", err)

		return
	}

	cause := dispatchError(err)

	if job.Attempt < job.Policy.MaxAttempts {
		p.metrics.DispatchAttempt("retry")
		logger.WarnContext(ctx, "Dispatch failed, retrying", "error", err, "max_attempts", job.Policy.MaxAttempts)

		requeueErr := p.queue.Requeue(ctx, job, cause)
		if requeueErr == nil || errors.Is(requeueErr, scheduler.ErrCanceled) {
			return
		}

		// The record is still running; end it rather than leave it behind.
		logger.ErrorContext(ctx, "Failed to requeue execution, marking it failed", "error", requeueErr)
		p.complete(ctx, logger, job, lifecycle.TriggerFail, func(e *models.Execution) {
			e.Error = cause
		})

		return
	}

	p.metrics.DispatchAttempt("exhausted")
	logger.ErrorContext(ctx, "Dispatch failed, attempts exhausted", "error", err, "max_attempts", job.Policy.MaxAttempts)

	p.complete(ctx, logger, job, lifecycle.TriggerFail, func(e *models.Execution) {
		e.Error = cause
	})
}

func (p *Pool) poll(ctx, runCtx context.Context, logger *slog.Logger, job *scheduler.Job, externalID string) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(p.config.ExecutionTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-runCtx.Done():
			if job.Canceled() {
				p.complete(ctx, logger, job, lifecycle.TriggerCancel, nil)

				return
			}

			logger.WarnContext(context.WithoutCancel(ctx), "Shutdown interrupted polling, execution left running", "external_execution_id", externalID)

			return
		case <-deadline.C:
			logger.WarnContext(ctx, "Execution timed out", "timeout", p.config.ExecutionTimeout)
			p.complete(ctx, logger, job, lifecycle.TriggerTimeout, func(e *models.Execution) {
				e.Error = &models.ExecutionError{
					Message: fmt.Sprintf("execution timed out after %s", p.config.ExecutionTimeout),
					Context: map[string]any{"external_execution_id": externalID},
				}
			})

			return
		case <-ticker.C:
			state, err := p.engine.GetExecution(runCtx, externalID)
			if err != nil {
				logger.WarnContext(ctx, "Failed to poll execution", "external_execution_id", externalID, "error", err)

				continue
			}

			status, terminal := state.Outcome()
			if !terminal {
				continue
			}

			p.finish(ctx, logger, job, status, state)

			return
		}
	}
}

func (p *Pool) finish(ctx context.Context, logger *slog.Logger, job *scheduler.Job, status models.ExecutionStatus, state *engine.ExecutionState) {
	switch status {
	case models.ExecutionStatusSuccess:
		p.complete(ctx, logger, job, lifecycle.TriggerSucceed, func(e *models.Execution) {
			e.Output = state.Output
			e.Error = nil
		})
	case models.ExecutionStatusCanceled:
		p.complete(ctx, logger, job, lifecycle.TriggerCancel, nil)
	default:
		// Node failures are terminal and go to the classifier, never retried here.
		failure := state.Error
		if failure == nil {
			failure = &models.ExecutionError{Message: "engine reported status " + state.Status}
		}

		p.complete(ctx, logger, job, lifecycle.TriggerFail, func(e *models.Execution) {
			e.Output = state.Output
			e.Error = failure
		})
	}
}

func (p *Pool) complete(ctx context.Context, logger *slog.Logger, job *scheduler.Job, trigger lifecycle.Trigger, apply func(*models.Execution)) {
	_, err := p.queue.Complete(context.WithoutCancel(ctx), job.ExecutionID, models.ExecutionStatusRunning, trigger, apply)
	if err != nil {
		if persistence.IsStatusConflict(err) {
			logger.WarnContext(ctx, "Execution changed status concurrently, terminal write skipped", "trigger", trigger)

			return
		}

		logger.ErrorContext(ctx, "Failed to record terminal status", "trigger", trigger, "error", err)
	}
}

// dispatchError turns an engine call failure into a classifier-visible execution error.
func dispatchError(err error) *models.ExecutionError {
	var statusErr *engine.StatusError
	if errors.As(err, &statusErr) {
		return &models.ExecutionError{
			Message:    fmt.Sprintf("engine responded %d: %s", statusErr.StatusCode, statusErr.Body),
			HTTPStatus: statusErr.StatusCode,
			Context:    map[string]any{"op": statusErr.Op},
		}
	}

	return &models.ExecutionError{Message: err.Error()}
}
