package models

import "time"

// AlertMetric names a quantity an alert rule watches.
type AlertMetric string

const (
	AlertMetricFailureRate        AlertMetric = "failure_rate" // failed / terminal, 0..1
	AlertMetricFailedExecutions   AlertMetric = "failed_executions"
	AlertMetricTimedOutExecutions AlertMetric = "timed_out_executions"
	AlertMetricHealingFailures    AlertMetric = "healing_failures"
	AlertMetricQueueDepth         AlertMetric = "queue_depth"
)

// AlertOperator compares a metric value with a threshold.
type AlertOperator string

const (
	AlertOperatorGreaterThan    AlertOperator = "gt"
	AlertOperatorGreaterOrEqual AlertOperator = "gte"
	AlertOperatorLessThan       AlertOperator = "lt"
	AlertOperatorLessOrEqual    AlertOperator = "lte"
	AlertOperatorEqual          AlertOperator = "eq"
)

// Compare applies the operator to value and threshold.
func (o AlertOperator) Compare(value, threshold float64) bool {
	switch o {
	case AlertOperatorGreaterThan:
		return value > threshold
	case AlertOperatorGreaterOrEqual:
		return value >= threshold
	case AlertOperatorLessThan:
		return value < threshold
	case AlertOperatorLessOrEqual:
		return value <= threshold
	case AlertOperatorEqual:
		return value == threshold
	default:
		return false
	}
}

// AlertRule watches one metric over a time window.
type AlertRule struct {
	ID              string        `json:"id"                          validate:"required"`
	Name            string        `json:"name"                        validate:"required"`
	Metric          AlertMetric   `json:"metric"                      validate:"required,oneof=failure_rate failed_executions timed_out_executions healing_failures queue_depth"`
	Operator        AlertOperator `json:"operator"                    validate:"required,oneof=gt gte lt lte eq"`
	Threshold       float64       `json:"threshold"`
	TimeWindow      time.Duration `json:"time_window"                 validate:"min=0"`
	Cooldown        time.Duration `json:"cooldown"                    validate:"min=0"`
	Enabled         bool          `json:"enabled"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at,omitempty"`
}

// InCooldown reports whether the rule fired less than Cooldown before now.
func (r *AlertRule) InCooldown(now time.Time) bool {
	return r.LastTriggeredAt != nil && now.Sub(*r.LastTriggeredAt) < r.Cooldown
}

// DefaultAlertRules returns the rules seeded on first start.
func DefaultAlertRules() []*AlertRule {
	return []*AlertRule{
		{
			ID:         "high-failure-rate",
			Name:       "Execution failure rate above 20%",
			Metric:     AlertMetricFailureRate,
			Operator:   AlertOperatorGreaterThan,
			Threshold:  0.2,
			TimeWindow: time.Hour,
			Cooldown:   30 * time.Minute,
			Enabled:    true,
		},
		{
			ID:         "repeated-timeouts",
			Name:       "More than 5 timed out executions",
			Metric:     AlertMetricTimedOutExecutions,
			Operator:   AlertOperatorGreaterThan,
			Threshold:  5,
			TimeWindow: time.Hour,
			Cooldown:   time.Hour,
			Enabled:    true,
		},
		{
			ID:         "healing-failures",
			Name:       "Self-healing failing repeatedly",
			Metric:     AlertMetricHealingFailures,
			Operator:   AlertOperatorGreaterOrEqual,
			Threshold:  3,
			TimeWindow: time.Hour,
			Cooldown:   time.Hour,
			Enabled:    true,
		},
		{
			ID:         "queue-backlog",
			Name:       "Dispatch queue backlog",
			Metric:     AlertMetricQueueDepth,
			Operator:   AlertOperatorGreaterThan,
			Threshold:  100,
			Cooldown:   15 * time.Minute,
			Enabled:    true,
		},
	}
}
