package models

import "time"

// HealingOutcome is the recorded result of one healing attempt.
type HealingOutcome string

const (
	HealingOutcomeFixed      HealingOutcome = "fixed"
	HealingOutcomeFailed     HealingOutcome = "failed"
	HealingOutcomePending    HealingOutcome = "pending"
	HealingOutcomeRolledBack HealingOutcome = "rolled_back"
)

// HealingEntry is an append-only audit record linking a failure to the fix applied for it.
type HealingEntry struct {
	ID                    string         `json:"id"`
	ExecutionID           string         `json:"execution_id"`
	WorkflowID            string         `json:"workflow_id"`
	ErrorType             ErrorType      `json:"error_type"`
	Severity              Severity       `json:"severity"`
	Confidence            float64        `json:"confidence"`
	MatchedPatternIDs     []string       `json:"matched_pattern_ids,omitempty"`
	StrategyID            string         `json:"strategy_id"`
	Outcome               HealingOutcome `json:"outcome"`
	AppliedSteps          []StepResult   `json:"applied_steps,omitempty"`
	FailedStep            *StepResult    `json:"failed_step,omitempty"`
	ValidationExecutionID string         `json:"validation_execution_id,omitempty"`
	Message               string         `json:"message,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	FinishedAt            *time.Time     `json:"finished_at,omitempty"`
}

// OutcomeFor maps a fix result onto the healing outcome recorded for it.
func OutcomeFor(result *FixResult) HealingOutcome {
	switch {
	case result == nil:
		return HealingOutcomeFailed
	case result.Status == FixStatusFixed:
		return HealingOutcomeFixed
	case result.Status == FixStatusPending:
		return HealingOutcomePending
	case result.RolledBack && !result.Inconsistent:
		return HealingOutcomeRolledBack
	default:
		return HealingOutcomeFailed
	}
}
