// Package healing runs the periodic scan that classifies failed executions and applies fixes.
package healing

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/eventbus"
	"github.com/dukex/flowmedic/pkg/events"
	"github.com/dukex/flowmedic/pkg/fixer"
	flowlog "github.com/dukex/flowmedic/pkg/log"
	"github.com/dukex/flowmedic/pkg/metrics"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Skip reasons, also used as metric labels.
const (
	SkipAlreadyHandled   = "already_handled"
	SkipUnclassified     = "unclassified"
	SkipNotAutoFixable   = "not_auto_fixable"
	SkipSeverity         = "severity_not_allowed"
	SkipApprovalRequired = "approval_required"
	SkipCooldown         = "cooldown"
	SkipNoStrategy       = "no_strategy"
	SkipError            = "error"
)

type Config struct {
	Interval              time.Duration
	ScanLimit             int
	MaxRetries            int
	RetryDelay            time.Duration
	AutoFixSeverities     []models.Severity
	ApprovalRequiredTypes []models.ErrorType
}

func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		ScanLimit:         20,
		MaxRetries:        3,
		RetryDelay:        300 * time.Second,
		AutoFixSeverities: []models.Severity{models.SeverityHigh, models.SeverityMedium, models.SeverityLow},
		ApprovalRequiredTypes: []models.ErrorType{
			models.ErrorTypeAuthentication,
			models.ErrorTypeCredentialMissing,
			models.ErrorTypeInvalidExpression,
		},
	}
}

// Fixer applies a fix strategy; satisfied by *fixer.Fixer.
type Fixer interface {
	ApplyFix(ctx context.Context, req fixer.FixRequest) (*models.FixResult, error)
}

// CycleReport summarizes one healing cycle.
type CycleReport struct {
	Scanned   int            `json:"scanned"`
	Fixed     int            `json:"fixed"`
	Failed    int            `json:"failed"`
	Suggested int            `json:"suggested"`
	Skipped   map[string]int `json:"skipped"`
}

type Loop struct {
	config     Config
	executions persistence.ExecutionRepository
	history    persistence.HealingRepository
	classifier *classifier.Classifier
	fixer      Fixer
	notifier   *eventbus.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	running atomic.Bool

	mu   sync.Mutex
	cron *cron.Cron
}

func New(
	config Config,
	executions persistence.ExecutionRepository,
	history persistence.HealingRepository,
	clf *classifier.Classifier,
	fx Fixer,
	notifier *eventbus.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Loop {
	defaults := DefaultConfig()

	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}

	if config.ScanLimit <= 0 {
		config.ScanLimit = defaults.ScanLimit
	}

	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	return &Loop{
		config:     config,
		executions: executions,
		history:    history,
		classifier: clf,
		fixer:      fx,
		notifier:   notifier,
		metrics:    m,
		logger:     logger.With("module", "healing"),
	}
}

// Start schedules RunCycle every Interval until Stop.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cron != nil {
		return ErrAlreadyStarted
	}

	cronLogger := flowlog.Cron(l.logger)
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger)))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", l.config.Interval), func() {
		_, err := l.RunCycle(ctx)
		if err != nil {
			l.logger.WarnContext(ctx, "Healing tick skipped", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule healing loop: %w", err)
	}

	c.Start()
	l.cron = c

	l.logger.InfoContext(ctx, "Healing loop started", "interval", l.config.Interval, "scan_limit", l.config.ScanLimit)

	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	c := l.cron
	l.cron = nil
	l.mu.Unlock()

	if c == nil {
		return
	}

	<-c.Stop().Done()
	l.logger.Info("Healing loop stopped")
}

// RunCycle scans the most recent failures once. Overlapping calls are refused
// with ErrCycleInProgress.
func (l *Loop) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !l.running.CompareAndSwap(false, true) {
		l.metrics.HealingCycle("overlap")

		return nil, ErrCycleInProgress
	}
	defer l.running.Store(false)

	failures, err := l.executions.Find(ctx, persistence.ExecutionFilter{
		Statuses:     []models.ExecutionStatus{models.ExecutionStatusFailed},
		ExcludeModes: []models.ExecutionMode{models.ExecutionModeHealingValidation},
	}, l.config.ScanLimit, persistence.NewestFirst)
	if err != nil {
		l.metrics.HealingCycle("error")

		return nil, fmt.Errorf("failed to scan failed executions: %w", err)
	}

	report := &CycleReport{Skipped: make(map[string]int)}

	for _, execution := range failures {
		if ctx.Err() != nil {
			break
		}

		report.Scanned++
		l.healIsolated(ctx, execution, report)
	}

	l.metrics.HealingCycle("completed")
	l.logger.InfoContext(ctx, "Healing cycle finished",
		"scanned", report.Scanned,
		"fixed", report.Fixed,
		"failed", report.Failed,
		"suggested", report.Suggested,
		"skipped", report.Skipped,
	)

	return report, nil
}

func (l *Loop) healIsolated(ctx context.Context, execution *models.Execution, report *CycleReport) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "Healing panicked", "execution_id", execution.ID, "panic", r)
			l.skip(report, SkipError)
		}
	}()

	err := l.heal(ctx, execution, report)
	if err != nil {
		l.logger.ErrorContext(ctx, "Healing failed", "execution_id", execution.ID, "error", err)
		l.skip(report, SkipError)
	}
}

func (l *Loop) heal(ctx context.Context, execution *models.Execution, report *CycleReport) error {
	logger := l.logger.With("execution_id", execution.ID, "workflow_id", execution.WorkflowID)

	handled, err := l.history.Count(ctx, persistence.HealingFilter{ExecutionID: execution.ID})
	if err != nil {
		return err
	}

	if handled > 0 {
		l.skip(report, SkipAlreadyHandled)

		return nil
	}

	classification := l.classifier.Classify(ctx, execution.Error)

	switch {
	case !classification.Matched():
		l.skip(report, SkipUnclassified)

		return nil
	case !classification.AutoFixable:
		logger.DebugContext(ctx, "Failure is not auto-fixable", "error_type", classification.ErrorType)
		l.skip(report, SkipNotAutoFixable)

		return nil
	case !slices.Contains(l.config.AutoFixSeverities, classification.Severity):
		logger.DebugContext(ctx, "Severity excluded from auto-fix", "severity", classification.Severity)
		l.skip(report, SkipSeverity)

		return nil
	}

	strategy, err := l.classifier.Catalog().StrategyFor(classification)
	if err != nil {
		logger.WarnContext(ctx, "No fix strategy for classified failure", "error_type", classification.ErrorType)
		l.skip(report, SkipNoStrategy)

		return nil
	}

	if strategy.RequiresApproval || slices.Contains(l.config.ApprovalRequiredTypes, classification.ErrorType) {
		report.Suggested++
		l.skip(report, SkipApprovalRequired)

		return l.suggest(ctx, execution, classification, strategy)
	}

	attempts, err := l.history.Count(ctx, persistence.HealingFilter{
		WorkflowID: execution.WorkflowID,
		Outcomes:   []models.HealingOutcome{models.HealingOutcomeFixed, models.HealingOutcomeFailed, models.HealingOutcomeRolledBack},
		Since:      time.Now().UTC().Add(-l.config.RetryDelay),
	})
	if err != nil {
		return err
	}

	if attempts >= l.config.MaxRetries {
		logger.WarnContext(ctx, "Healing cooldown reached", "attempts", attempts, "max_retries", l.config.MaxRetries)
		l.skip(report, SkipCooldown)
		l.notifier.Notify(ctx, execution.WorkflowID, events.HealingMaxRetries{
			BaseEvent:   events.NewBaseEvent(events.HealingMaxRetriesEvent, execution.WorkflowID),
			ExecutionID: execution.ID,
			Attempts:    attempts,
			MaxRetries:  l.config.MaxRetries,
			Window:      l.config.RetryDelay,
		})

		return nil
	}

	return l.fix(ctx, logger, execution, classification, strategy, report)
}

func (l *Loop) fix(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	classification *models.Classification,
	strategy models.FixStrategy,
	report *CycleReport,
) error {
	logger.InfoContext(ctx, "Applying fix", "strategy_id", strategy.ID, "error_type", classification.ErrorType)

	result, err := l.fixer.ApplyFix(ctx, fixer.FixRequest{
		ExecutionID:    execution.ID,
		WorkflowID:     execution.WorkflowID,
		Classification: classification,
		Strategy:       strategy,
		Input:          execution.Input,
	})

	entry := l.record(ctx, logger, execution, classification, strategy, result, err)
	if entry.Outcome == models.HealingOutcomeFixed {
		report.Fixed++
	} else {
		report.Failed++
	}

	return nil
}

// record appends the healing entry for a fix attempt and publishes its outcome.
func (l *Loop) record(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.Execution,
	classification *models.Classification,
	strategy models.FixStrategy,
	result *models.FixResult,
	fixErr error,
) *models.HealingEntry {
	entry := newEntry(execution, classification, strategy.ID)
	entry.Outcome = models.OutcomeFor(result)

	if fixErr != nil {
		entry.Message = fixErr.Error()
	} else {
		entry.AppliedSteps = result.AppliedSteps
		entry.FailedStep = result.FailedStep
		entry.Message = result.Message

		if result.TestResult != nil {
			entry.ValidationExecutionID = result.TestResult.ExecutionID
		}
	}

	finished := time.Now().UTC()
	entry.FinishedAt = &finished

	err := l.history.Append(ctx, entry)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record healing entry", "error", err)
	}

	l.metrics.HealingOutcome(string(entry.Outcome))

	healingReport := events.HealingReport{
		ExecutionID:           execution.ID,
		ErrorType:             classification.ErrorType,
		Severity:              classification.Severity,
		Confidence:            classification.Confidence,
		StrategyID:            strategy.ID,
		Outcome:               entry.Outcome,
		ValidationExecutionID: entry.ValidationExecutionID,
		Message:               entry.Message,
	}

	if entry.Outcome == models.HealingOutcomeFixed {
		l.notifier.Notify(ctx, execution.WorkflowID, events.HealingSuccess{
			BaseEvent:     events.NewBaseEvent(events.HealingSuccessEvent, execution.WorkflowID),
			HealingReport: healingReport,
		})
		logger.InfoContext(ctx, "Workflow healed", "strategy_id", strategy.ID)

		return entry
	}

	l.notifier.Notify(ctx, execution.WorkflowID, events.HealingFailure{
		BaseEvent:     events.NewBaseEvent(events.HealingFailureEvent, execution.WorkflowID),
		HealingReport: healingReport,
		FailedStep:    entry.FailedStep,
	})
	logger.WarnContext(ctx, "Healing attempt failed", "strategy_id", strategy.ID, "outcome", entry.Outcome, "message", entry.Message)

	return entry
}

// suggest records a pending entry so the failure is offered to operators once.
func (l *Loop) suggest(
	ctx context.Context,
	execution *models.Execution,
	classification *models.Classification,
	strategy models.FixStrategy,
) error {
	entry := newEntry(execution, classification, strategy.ID)
	entry.Outcome = models.HealingOutcomePending
	entry.Message = "fix requires operator approval"

	err := l.history.Append(ctx, entry)
	if err != nil {
		return err
	}

	l.notifier.Notify(ctx, execution.WorkflowID, events.HealingSuggested{
		BaseEvent: events.NewBaseEvent(events.HealingSuggestedEvent, execution.WorkflowID),
		HealingReport: events.HealingReport{
			ExecutionID: execution.ID,
			ErrorType:   classification.ErrorType,
			Severity:    classification.Severity,
			Confidence:  classification.Confidence,
			StrategyID:  strategy.ID,
			Outcome:     models.HealingOutcomePending,
			Message:     entry.Message,
		},
		RootCause: classification.RootCause,
	})

	return nil
}

func (l *Loop) skip(report *CycleReport, reason string) {
	report.Skipped[reason]++
	l.metrics.HealingSkipped(reason)
}

func newEntry(execution *models.Execution, classification *models.Classification, strategyID string) *models.HealingEntry {
	return &models.HealingEntry{
		ID:                uuid.NewString(),
		ExecutionID:       execution.ID,
		WorkflowID:        execution.WorkflowID,
		ErrorType:         classification.ErrorType,
		Severity:          classification.Severity,
		Confidence:        classification.Confidence,
		MatchedPatternIDs: classification.MatchedPatternIDs,
		StrategyID:        strategyID,
		CreatedAt:         time.Now().UTC(),
	}
}
