// Package events defines event types and structures for execution and healing lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Kafka topic.
const Topic = "flowmedic.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionQueuedEvent   EventType = "execution.queued"
	ExecutionRunningEvent  EventType = "execution.running"
	ExecutionTerminalEvent EventType = "execution.terminal"

	// Healing loop events.
	HealingSuccessEvent      EventType = "healing.success"
	HealingFailureEvent      EventType = "healing.failure"
	HealingMaxRetriesEvent   EventType = "healing.max_retries"
	HealingSuggestedEvent    EventType = "healing.suggested"
	HealingInconsistentEvent EventType = "healing.inconsistent"

	// Observability events.
	AlertTriggeredEvent EventType = "alert.triggered"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ExecutionQueued struct {
	BaseEvent

	ExecutionID string               `json:"execution_id"`
	Priority    models.Priority      `json:"priority"`
	Mode        models.ExecutionMode `json:"mode"`
	Attempt     int                  `json:"attempt"`
	MaxAttempts int                  `json:"max_attempts"`
	NotBefore   *time.Time           `json:"not_before,omitempty"` // Set when re-queued with a backoff delay
}

func (e ExecutionQueued) GetType() EventType {
	return ExecutionQueuedEvent
}

type ExecutionRunning struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Attempt     int    `json:"attempt"`
}

func (e ExecutionRunning) GetType() EventType {
	return ExecutionRunningEvent
}

type ExecutionTerminal struct {
	BaseEvent

	ExecutionID         string                 `json:"execution_id"`
	ExternalExecutionID string                 `json:"external_execution_id,omitempty"`
	Status              models.ExecutionStatus `json:"status"`
	Attempt             int                    `json:"attempt"`
	DurationMs          int64                  `json:"duration_ms"`
	Output              map[string]any         `json:"output,omitempty"`
	Error               *models.ExecutionError `json:"error,omitempty"`
}

func (e ExecutionTerminal) GetType() EventType {
	return ExecutionTerminalEvent
}

// HealingReport is shared by the healing outcome events.
type HealingReport struct {
	ExecutionID           string                `json:"execution_id"`
	ErrorType             models.ErrorType      `json:"error_type"`
	Severity              models.Severity       `json:"severity"`
	Confidence            float64               `json:"confidence"`
	StrategyID            string                `json:"strategy_id,omitempty"`
	Outcome               models.HealingOutcome `json:"outcome,omitempty"`
	ValidationExecutionID string                `json:"validation_execution_id,omitempty"`
	Message               string                `json:"message,omitempty"`
}

type HealingSuccess struct {
	BaseEvent
	HealingReport
}

func (e HealingSuccess) GetType() EventType {
	return HealingSuccessEvent
}

type HealingFailure struct {
	BaseEvent
	HealingReport

	FailedStep *models.StepResult `json:"failed_step,omitempty"`
}

func (e HealingFailure) GetType() EventType {
	return HealingFailureEvent
}

type HealingMaxRetries struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Attempts    int           `json:"attempts"`
	MaxRetries  int           `json:"max_retries"`
	Window      time.Duration `json:"window"`
}

func (e HealingMaxRetries) GetType() EventType {
	return HealingMaxRetriesEvent
}

// HealingSuggested is published when a fix exists but needs operator approval.
type HealingSuggested struct {
	BaseEvent
	HealingReport

	RootCause string `json:"root_cause"`
}

func (e HealingSuggested) GetType() EventType {
	return HealingSuggestedEvent
}

// HealingInconsistent is published when a failed fix left a non-rollbackable change applied.
type HealingInconsistent struct {
	BaseEvent

	ExecutionID  string              `json:"execution_id"`
	StrategyID   string              `json:"strategy_id"`
	AppliedSteps []models.StepResult `json:"applied_steps"`
	FailedStep   *models.StepResult  `json:"failed_step,omitempty"`
}

func (e HealingInconsistent) GetType() EventType {
	return HealingInconsistentEvent
}

type AlertTriggered struct {
	BaseEvent

	RuleID    string               `json:"rule_id"`
	RuleName  string               `json:"rule_name"`
	Metric    models.AlertMetric   `json:"metric"`
	Operator  models.AlertOperator `json:"operator"`
	Value     float64              `json:"value"`
	Threshold float64              `json:"threshold"`
}

func (e AlertTriggered) GetType() EventType {
	return AlertTriggeredEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// NewTerminal builds the terminal event for an execution that reached a terminal status.
func NewTerminal(execution *models.Execution) ExecutionTerminal {
	return ExecutionTerminal{
		BaseEvent:           NewBaseEvent(ExecutionTerminalEvent, execution.WorkflowID),
		ExecutionID:         execution.ID,
		ExternalExecutionID: execution.ExternalExecutionID,
		Status:              execution.Status,
		Attempt:             execution.Attempt,
		DurationMs:          execution.Duration().Milliseconds(),
		Output:              execution.Output,
		Error:               execution.Error,
	}
}
