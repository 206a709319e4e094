// Package models defines the domain models for workflow execution orchestration and self-healing.
package models

import "time"

// ExecutionStatus represents the lifecycle state of an execution record.
type ExecutionStatus string

const (
	ExecutionStatusQueued   ExecutionStatus = "queued"    // Waiting for a worker
	ExecutionStatusRunning  ExecutionStatus = "running"   // Dispatched to the engine
	ExecutionStatusSuccess  ExecutionStatus = "success"   // Engine reported success
	ExecutionStatusFailed   ExecutionStatus = "failed"    // Attempts exhausted or engine reported an error
	ExecutionStatusTimedOut ExecutionStatus = "timed_out" // Poll phase exceeded the timeout
	ExecutionStatusCanceled ExecutionStatus = "canceled"  // Canceled by an operator
)

// CarriesError reports whether a record in status s keeps its Error.
func (s ExecutionStatus) CarriesError() bool {
	return s == ExecutionStatusFailed || s == ExecutionStatusTimedOut
}

// IsTerminal reports whether no further transition may leave the status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	return s.IsTerminal() || s == ExecutionStatusQueued || s == ExecutionStatusRunning
}

// ExecutionMode tags where an execution request came from.
type ExecutionMode string

const (
	ExecutionModeManual            ExecutionMode = "manual"
	ExecutionModeWebhook           ExecutionMode = "webhook-triggered"
	ExecutionModeScheduledRetry    ExecutionMode = "scheduled-retry"
	ExecutionModeHealingValidation ExecutionMode = "healing-validation"
)

// Valid reports whether m is a known mode.
func (m ExecutionMode) Valid() bool {
	switch m {
	case ExecutionModeManual, ExecutionModeWebhook, ExecutionModeScheduledRetry, ExecutionModeHealingValidation:
		return true
	default:
		return false
	}
}

// Execution is the record of one workflow run and its dispatch attempts.
// Error is only set on failed and timed out records. LastAttemptError keeps
// the cause of the most recent retried dispatch.
type Execution struct {
	ID                  string          `json:"id"`
	WorkflowID          string          `json:"workflow_id"                     validate:"required"`
	ExternalExecutionID string          `json:"external_execution_id,omitempty"`
	ParentExecutionID   string          `json:"parent_execution_id,omitempty"`
	Status              ExecutionStatus `json:"status"                          validate:"required"`
	Priority            Priority        `json:"priority"                        validate:"required"`
	Mode                ExecutionMode   `json:"mode"                            validate:"required"`
	Attempt             int             `json:"attempt"                         validate:"min=1"`
	MaxAttempts         int             `json:"max_attempts"                    validate:"min=1"`
	Input               map[string]any  `json:"input,omitempty"`
	Output              map[string]any  `json:"output,omitempty"`
	Error               *ExecutionError `json:"error,omitempty"`
	LastAttemptError    *ExecutionError `json:"last_attempt_error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	FinishedAt          *time.Time      `json:"finished_at,omitempty"`
}

// Duration returns the time between start and finish, or zero when either is unset.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.FinishedAt == nil {
		return 0
	}

	return e.FinishedAt.Sub(*e.StartedAt)
}

// ExecutionError describes why an execution failed or timed out.
type ExecutionError struct {
	Message    string         `json:"message"`
	NodeName   string         `json:"node_name,omitempty"`
	NodeType   string         `json:"node_type,omitempty"`
	Stack      string         `json:"stack,omitempty"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

func (e *ExecutionError) Error() string {
	if e.NodeName != "" {
		return e.NodeName + ": " + e.Message
	}

	return e.Message
}
