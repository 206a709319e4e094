// Package alerting evaluates operator alert rules against execution and healing history.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowmedic/pkg/eventbus"
	"github.com/dukex/flowmedic/pkg/events"
	flowlog "github.com/dukex/flowmedic/pkg/log"
	"github.com/dukex/flowmedic/pkg/metrics"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const DefaultInterval = time.Minute

var ErrAlreadyStarted = errors.New("alert evaluator already started")

// DepthSource reports how many jobs wait for a worker.
type DepthSource interface {
	Depth() int
}

type Evaluator struct {
	interval   time.Duration
	rules      persistence.AlertRuleRepository
	executions persistence.ExecutionRepository
	history    persistence.HealingRepository
	queue      DepthSource
	notifier   *eventbus.Notifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(
	interval time.Duration,
	store persistence.Persistence,
	queue DepthSource,
	notifier *eventbus.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Evaluator {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Evaluator{
		interval:   interval,
		rules:      store.AlertRules(),
		executions: store.Executions(),
		history:    store.HealingHistory(),
		queue:      queue,
		notifier:   notifier,
		metrics:    m,
		logger:     logger.With("module", "alerting"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Seed stores the default rules when no rule exists yet.
func (e *Evaluator) Seed(ctx context.Context) error {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list alert rules: %w", err)
	}

	if len(rules) > 0 {
		return nil
	}

	for _, rule := range models.DefaultAlertRules() {
		err := e.rules.Save(ctx, rule)
		if err != nil {
			return fmt.Errorf("failed to seed alert rule %s: %w", rule.ID, err)
		}
	}

	e.logger.InfoContext(ctx, "Seeded default alert rules", "count", len(models.DefaultAlertRules()))

	return nil
}

func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cron != nil {
		return ErrAlreadyStarted
	}

	cronLogger := flowlog.Cron(e.logger)
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", e.interval), func() {
		_, err := e.Evaluate(ctx)
		if err != nil {
			e.logger.ErrorContext(ctx, "Alert evaluation failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule alert evaluation: %w", err)
	}

	c.Start()
	e.cron = c

	return nil
}

func (e *Evaluator) Stop() {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Evaluate checks every enabled rule once and returns the alerts that fired.
func (e *Evaluator) Evaluate(ctx context.Context) ([]events.AlertTriggered, error) {
	rules, err := e.rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert rules: %w", err)
	}

	now := e.now()

	var fired []events.AlertTriggered

	for _, rule := range rules {
		if !rule.Enabled || rule.InCooldown(now) {
			continue
		}

		value, err := e.value(ctx, rule, now)
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to compute alert metric", "rule_id", rule.ID, "metric", rule.Metric, "error", err)

			continue
		}

		if !rule.Operator.Compare(value, rule.Threshold) {
			continue
		}

		rule.LastTriggeredAt = &now

		err = e.rules.Save(ctx, rule)
		if err != nil {
			e.logger.WarnContext(ctx, "Failed to record alert trigger", "rule_id", rule.ID, "error", err)
		}

		event := events.AlertTriggered{
			BaseEvent: events.NewBaseEvent(events.AlertTriggeredEvent, ""),
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			Metric:    rule.Metric,
			Operator:  rule.Operator,
			Value:     value,
			Threshold: rule.Threshold,
		}

		e.notifier.Notify(ctx, rule.ID, event)
		e.metrics.AlertTriggered(rule.ID)
		e.logger.WarnContext(ctx, "Alert triggered", "rule_id", rule.ID, "metric", rule.Metric, "value", value, "threshold", rule.Threshold)

		fired = append(fired, event)
	}

	return fired, nil
}

func (e *Evaluator) value(ctx context.Context, rule *models.AlertRule, now time.Time) (float64, error) {
	var since time.Time
	if rule.TimeWindow > 0 {
		since = now.Add(-rule.TimeWindow)
	}

	switch rule.Metric {
	case models.AlertMetricFailureRate:
		terminal, err := e.countExecutions(ctx, since,
			models.ExecutionStatusSuccess,
			models.ExecutionStatusFailed,
			models.ExecutionStatusTimedOut,
			models.ExecutionStatusCanceled,
		)
		if err != nil || terminal == 0 {
			return 0, err
		}

		failed, err := e.countExecutions(ctx, since, models.ExecutionStatusFailed, models.ExecutionStatusTimedOut)
		if err != nil {
			return 0, err
		}

		return float64(failed) / float64(terminal), nil
	case models.AlertMetricFailedExecutions:
		n, err := e.countExecutions(ctx, since, models.ExecutionStatusFailed)

		return float64(n), err
	case models.AlertMetricTimedOutExecutions:
		n, err := e.countExecutions(ctx, since, models.ExecutionStatusTimedOut)

		return float64(n), err
	case models.AlertMetricHealingFailures:
		n, err := e.history.Count(ctx, persistence.HealingFilter{
			Outcomes: []models.HealingOutcome{models.HealingOutcomeFailed, models.HealingOutcomeRolledBack},
			Since:    since,
		})

		return float64(n), err
	case models.AlertMetricQueueDepth:
		if e.queue == nil {
			return 0, nil
		}

		return float64(e.queue.Depth()), nil
	default:
		return 0, fmt.Errorf("unknown alert metric %q", rule.Metric)
	}
}

func (e *Evaluator) countExecutions(ctx context.Context, since time.Time, statuses ...models.ExecutionStatus) (int, error) {
	executions, err := e.executions.Find(ctx, persistence.ExecutionFilter{
		Statuses:     statuses,
		ExcludeModes: []models.ExecutionMode{models.ExecutionModeHealingValidation},
		Since:        since,
	}, 0, persistence.NewestFirst)
	if err != nil {
		return 0, err
	}

	return len(executions), nil
}
