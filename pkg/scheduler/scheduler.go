// Package scheduler owns the priority queue of pending executions and their dispatch policies.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/flowmedic/pkg/eventbus"
	"github.com/dukex/flowmedic/pkg/events"
	"github.com/dukex/flowmedic/pkg/lifecycle"
	"github.com/dukex/flowmedic/pkg/metrics"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type jobState int

const (
	statePending     jobState = iota // Registered, record not yet published as queued
	stateQueued                      // In the heap
	stateBackoff                     // Waiting for its retry delay
	stateDispatching                 // Handed to a worker, record still queued
	stateRunning
)

// Job is a queued execution handed to a worker by Next.
type Job struct {
	ExecutionID string
	WorkflowID  string
	Priority    models.Priority
	Mode        models.ExecutionMode
	Input       map[string]any
	Attempt     int
	Policy      models.DispatchPolicy

	ctx      context.Context
	cancel   context.CancelFunc
	canceled atomic.Bool

	// guarded by Scheduler.mu
	state jobState
	timer *time.Timer
	seq   uint64
	index int
}

// Context is canceled when the execution is canceled.
func (j *Job) Context() context.Context {
	return j.ctx
}

func (j *Job) Canceled() bool {
	return j.canceled.Load()
}

type EnqueueRequest struct {
	WorkflowID        string               `json:"workflow_id"         validate:"required"`
	Input             map[string]any       `json:"input"`
	Priority          models.Priority      `json:"priority"            validate:"omitempty,oneof=low normal high urgent"`
	Mode              models.ExecutionMode `json:"mode"                validate:"omitempty,oneof=manual webhook-triggered scheduled-retry healing-validation"`
	ParentExecutionID string               `json:"parent_execution_id"`
}

// DefaultRestoreDelay is how long a job whose running transition could not be stored
// waits before it is handed out again.
const DefaultRestoreDelay = time.Second

type Scheduler struct {
	store    persistence.ExecutionRepository
	notifier *eventbus.Notifier
	metrics  *metrics.Metrics
	policies models.PolicyTable
	validate *validator.Validate
	logger   *slog.Logger

	restoreDelay time.Duration

	mu      sync.Mutex
	queue   jobQueue
	seq     uint64
	jobs    map[string]*Job
	waiters map[string][]chan *models.Execution
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func New(
	store persistence.ExecutionRepository,
	notifier *eventbus.Notifier,
	policies models.PolicyTable,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Scheduler {
	if policies == nil {
		policies = models.DefaultPolicyTable()
	}

	return &Scheduler{
		store:    store,
		notifier: notifier,
		metrics:  m,
		policies: policies,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("module", "scheduler"),
		jobs:     make(map[string]*Job),
		waiters:  make(map[string][]chan *models.Execution),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),

		restoreDelay: DefaultRestoreDelay,
	}
}

// Enqueue records a new queued execution and makes it available to workers. It never blocks on dispatch.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	err := s.validate.Struct(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}

	if req.Mode == "" {
		req.Mode = models.ExecutionModeManual
	}

	policy := s.policies.For(req.Priority)
	execution := &models.Execution{
		ID:                uuid.NewString(),
		WorkflowID:        req.WorkflowID,
		ParentExecutionID: req.ParentExecutionID,
		Status:            models.ExecutionStatusQueued,
		Priority:          req.Priority,
		Mode:              req.Mode,
		Attempt:           1,
		MaxAttempts:       policy.MaxAttempts,
		Input:             req.Input,
		CreatedAt:         time.Now().UTC(),
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		Priority:    execution.Priority,
		Mode:        execution.Mode,
		Input:       execution.Input,
		Attempt:     1,
		Policy:      policy,
		ctx:         jobCtx,
		cancel:      cancel,
		state:       statePending,
	}

	// Tracked before the record exists so a concurrent Cancel flags the job
	// instead of finalizing a record whose queued event is not out yet.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()

		return "", ErrClosed
	}

	s.jobs[job.ExecutionID] = job
	s.mu.Unlock()

	err = s.store.Save(ctx, execution)
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, job.ExecutionID)
		s.mu.Unlock()
		cancel()

		return "", fmt.Errorf("failed to save execution: %w", err)
	}

	s.notifier.Notify(ctx, execution.ID, s.queuedEvent(job, nil))
	s.metrics.ExecutionEnqueued(string(job.Priority), string(job.Mode))

	s.mu.Lock()
	if job.Canceled() {
		s.mu.Unlock()
		s.finalizeCanceled(ctx, job.ExecutionID, models.ExecutionStatusQueued)

		return execution.ID, nil
	}

	s.pushLocked(job)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Execution enqueued",
		"execution_id", job.ExecutionID,
		"workflow_id", job.WorkflowID,
		"priority", job.Priority,
		"mode", job.Mode,
		"policy", policy.String(),
	)

	return execution.ID, nil
}

// Next blocks until a job is available, ctx ends or the scheduler is closed.
func (s *Scheduler) Next(ctx context.Context) (*Job, error) {
	for {
		s.mu.Lock()

		if s.closed {
			s.mu.Unlock()

			return nil, ErrClosed
		}

		if s.queue.Len() > 0 {
			job, _ := heap.Pop(&s.queue).(*Job)
			job.state = stateDispatching

			if s.queue.Len() > 0 {
				s.signal()
			}

			s.metrics.QueueDepth(s.queue.Len())
			s.mu.Unlock()

			return job, nil
		}

		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrClosed
		case <-s.wake:
		}
	}
}

// MarkRunning moves the job's record from queued to running.
func (s *Scheduler) MarkRunning(ctx context.Context, job *Job) error {
	s.mu.Lock()
	if job.Canceled() {
		s.mu.Unlock()
		s.finalizeCanceled(ctx, job.ExecutionID, models.ExecutionStatusQueued)

		return ErrCanceled
	}

	job.state = stateRunning
	s.mu.Unlock()

	status, err := lifecycle.Next(models.ExecutionStatusQueued, lifecycle.TriggerDispatch)
	if err != nil {
		return err
	}

	_, err = s.store.Update(ctx, job.ExecutionID, models.ExecutionStatusQueued, func(e *models.Execution) {
		now := time.Now().UTC()
		e.Status = status
		e.StartedAt = &now
	})
	if err != nil {
		s.restore(ctx, job, err)

		return fmt.Errorf("failed to mark execution running: %w", err)
	}

	s.notifier.Notify(ctx, job.ExecutionID, events.ExecutionRunning{
		BaseEvent:   events.NewBaseEvent(events.ExecutionRunningEvent, job.WorkflowID),
		ExecutionID: job.ExecutionID,
		Attempt:     job.Attempt,
	})

	return nil
}

// Requeue schedules the next attempt of a running job after the policy delay.
// cause is kept as the record's LastAttemptError so operators can see why the attempt failed.
func (s *Scheduler) Requeue(ctx context.Context, job *Job, cause *models.ExecutionError) error {
	status, err := lifecycle.Next(models.ExecutionStatusRunning, lifecycle.TriggerRetry)
	if err != nil {
		return err
	}

	delay := job.Policy.Delay(job.Attempt)
	nextAttempt := job.Attempt + 1

	_, err = s.store.Update(ctx, job.ExecutionID, models.ExecutionStatusRunning, func(e *models.Execution) {
		e.Status = status
		e.Attempt = nextAttempt
		e.StartedAt = nil
		e.ExternalExecutionID = ""
		e.Error = nil
		e.LastAttemptError = cause
	})
	if err != nil {
		return fmt.Errorf("failed to requeue execution: %w", err)
	}

	s.mu.Lock()
	job.Attempt = nextAttempt

	if job.Canceled() {
		s.mu.Unlock()
		s.finalizeCanceled(ctx, job.ExecutionID, models.ExecutionStatusQueued)

		return ErrCanceled
	}

	notBefore := time.Now().UTC().Add(delay)

	if delay <= 0 {
		s.pushLocked(job)
	} else {
		job.state = stateBackoff
		job.timer = time.AfterFunc(delay, func() { s.release(job) })
	}
	s.mu.Unlock()

	s.notifier.Notify(ctx, job.ExecutionID, s.queuedEvent(job, &notBefore))
	s.logger.InfoContext(ctx, "Execution requeued",
		"execution_id", job.ExecutionID,
		"attempt", nextAttempt,
		"max_attempts", job.Policy.MaxAttempts,
		"delay", delay,
	)

	return nil
}

// restore handles a failed queued to running write. The record is still queued, so the
// job goes back to the heap after the restore delay unless it was canceled meanwhile or the
// record moved on without us.
func (s *Scheduler) restore(ctx context.Context, job *Job, cause error) {
	if persistence.IsStatusConflict(cause) {
		s.logger.WarnContext(ctx, "Execution left queued status concurrently, dropping job", "execution_id", job.ExecutionID)
		s.drop(job)

		return
	}

	s.mu.Lock()
	if job.Canceled() {
		s.mu.Unlock()
		s.finalizeCanceled(ctx, job.ExecutionID, models.ExecutionStatusQueued)

		return
	}

	job.state = stateBackoff
	job.timer = time.AfterFunc(s.restoreDelay, func() { s.release(job) })
	s.mu.Unlock()

	s.logger.WarnContext(ctx, "Failed to mark execution running, returning it to the queue",
		"execution_id", job.ExecutionID,
		"delay", s.restoreDelay,
		"error", cause,
	)
}

func (s *Scheduler) drop(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.cancel()
	delete(s.jobs, job.ExecutionID)
}

func (s *Scheduler) release(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Canceled() || s.closed || job.state != stateBackoff {
		return
	}

	job.timer = nil
	s.pushLocked(job)
}

// Cancel stops an execution. Queued and backing-off jobs are finalized at once;
// running jobs are flagged and observe the cancel at their next suspension point.
// Canceling a terminal execution is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, executionID string) error {
	s.mu.Lock()
	job, tracked := s.jobs[executionID]

	if tracked {
		if job.Canceled() {
			s.mu.Unlock()

			return nil
		}

		job.canceled.Store(true)
		job.cancel()

		switch job.state {
		case stateQueued:
			heap.Remove(&s.queue, job.index)
			s.metrics.QueueDepth(s.queue.Len())
			s.mu.Unlock()
			s.finalizeCanceled(ctx, executionID, models.ExecutionStatusQueued)

			return nil
		case stateBackoff:
			if job.timer != nil {
				job.timer.Stop()
			}
			s.mu.Unlock()
			s.finalizeCanceled(ctx, executionID, models.ExecutionStatusQueued)

			return nil
		case statePending, stateDispatching, stateRunning:
			s.mu.Unlock()
			s.logger.InfoContext(ctx, "Cancel requested for in-flight execution", "execution_id", executionID)

			return nil
		}
	}
	s.mu.Unlock()

	execution, err := s.store.Get(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.IsTerminal() {
		return nil
	}

	// Not tracked in memory, e.g. left over from a previous process.
	s.finalizeCanceled(ctx, executionID, execution.Status)

	return nil
}

// Complete performs the terminal transition from the given status, publishes
// exactly one terminal event and releases waiters. A lost compare-and-set
// returns the conflict without publishing.
func (s *Scheduler) Complete(
	ctx context.Context,
	executionID string,
	from models.ExecutionStatus,
	trigger lifecycle.Trigger,
	apply func(*models.Execution),
) (*models.Execution, error) {
	status, err := lifecycle.Next(from, trigger)
	if err != nil {
		return nil, err
	}

	execution, err := s.store.Update(ctx, executionID, from, func(e *models.Execution) {
		now := time.Now().UTC()
		e.Status = status
		e.FinishedAt = &now

		if e.StartedAt == nil {
			e.StartedAt = &now
		}

		if apply != nil {
			apply(e)
		}

		if !status.CarriesError() {
			e.Error = nil
		}
	})
	if err != nil {
		return execution, err
	}

	s.notifier.Notify(ctx, executionID, events.NewTerminal(execution))
	s.metrics.ExecutionTerminal(string(execution.Status), execution.Duration().Seconds())
	s.Finished(execution)

	s.logger.InfoContext(ctx, "Execution finished",
		"execution_id", executionID,
		"status", execution.Status,
		"attempt", execution.Attempt,
	)

	return execution, nil
}

func (s *Scheduler) finalizeCanceled(ctx context.Context, executionID string, from models.ExecutionStatus) {
	_, err := s.Complete(ctx, executionID, from, lifecycle.TriggerCancel, nil)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to finalize canceled execution", "execution_id", executionID, "error", err)
	}
}

// Finished drops the job and wakes everyone waiting on the execution.
func (s *Scheduler) Finished(execution *models.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[execution.ID]; ok {
		job.cancel()
		delete(s.jobs, execution.ID)
	}

	for _, ch := range s.waiters[execution.ID] {
		ch <- execution
		close(ch)
	}

	delete(s.waiters, execution.ID)
}

// Wait blocks until the execution is terminal and returns its final record.
func (s *Scheduler) Wait(ctx context.Context, executionID string) (*models.Execution, error) {
	ch := make(chan *models.Execution, 1)

	s.mu.Lock()
	s.waiters[executionID] = append(s.waiters[executionID], ch)
	s.mu.Unlock()

	execution, err := s.store.Get(ctx, executionID)
	if err != nil {
		s.dropWaiter(executionID, ch)

		return nil, err
	}

	if execution.Status.IsTerminal() {
		s.dropWaiter(executionID, ch)

		return execution, nil
	}

	select {
	case execution := <-ch:
		return execution, nil
	case <-ctx.Done():
		s.dropWaiter(executionID, ch)

		return nil, ctx.Err()
	}
}

func (s *Scheduler) dropWaiter(executionID string, ch chan *models.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	waiters := s.waiters[executionID]
	for i, w := range waiters {
		if w == ch {
			s.waiters[executionID] = append(waiters[:i], waiters[i+1:]...)

			break
		}
	}

	if len(s.waiters[executionID]) == 0 {
		delete(s.waiters, executionID)
	}
}

// Depth is the number of jobs waiting for a worker.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queue.Len()
}

// Close stops handing out work. Pending backoff timers are stopped; records stay queued.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.done)

	for _, job := range s.jobs {
		if job.timer != nil {
			job.timer.Stop()
		}
	}
}

func (s *Scheduler) pushLocked(job *Job) {
	s.seq++
	job.seq = s.seq
	job.state = stateQueued
	heap.Push(&s.queue, job)
	s.metrics.QueueDepth(s.queue.Len())
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) queuedEvent(job *Job, notBefore *time.Time) events.ExecutionQueued {
	return events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, job.WorkflowID),
		ExecutionID: job.ExecutionID,
		Priority:    job.Priority,
		Mode:        job.Mode,
		Attempt:     job.Attempt,
		MaxAttempts: job.Policy.MaxAttempts,
		NotBefore:   notBefore,
	}
}
