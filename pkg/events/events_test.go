package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypes(t *testing.T) {
	assert.Equal(t, ExecutionQueuedEvent, ExecutionQueued{}.GetType())
	assert.Equal(t, ExecutionRunningEvent, ExecutionRunning{}.GetType())
	assert.Equal(t, ExecutionTerminalEvent, ExecutionTerminal{}.GetType())
	assert.Equal(t, HealingSuccessEvent, HealingSuccess{}.GetType())
	assert.Equal(t, HealingFailureEvent, HealingFailure{}.GetType())
	assert.Equal(t, HealingMaxRetriesEvent, HealingMaxRetries{}.GetType())
	assert.Equal(t, HealingSuggestedEvent, HealingSuggested{}.GetType())
	assert.Equal(t, HealingInconsistentEvent, HealingInconsistent{}.GetType())
	assert.Equal(t, AlertTriggeredEvent, AlertTriggered{}.GetType())
}

func TestEventTypeNames(t *testing.T) {
	assert.Equal(t, EventType("execution.queued"), ExecutionQueuedEvent)
	assert.Equal(t, EventType("execution.running"), ExecutionRunningEvent)
	assert.Equal(t, EventType("execution.terminal"), ExecutionTerminalEvent)
	assert.Equal(t, EventType("healing.success"), HealingSuccessEvent)
	assert.Equal(t, EventType("healing.failure"), HealingFailureEvent)
	assert.Equal(t, EventType("healing.max_retries"), HealingMaxRetriesEvent)
}

func TestNewTerminal(t *testing.T) {
	started := time.Now().UTC()
	finished := started.Add(1500 * time.Millisecond)

	execution := &models.Execution{
		ID:                  "exec-1",
		WorkflowID:          "wf-1",
		ExternalExecutionID: "42",
		Status:              models.ExecutionStatusFailed,
		Attempt:             2,
		StartedAt:           &started,
		FinishedAt:          &finished,
		Error:               &models.ExecutionError{Message: "boom", NodeName: "HTTP Request"},
	}

	event := NewTerminal(execution)

	assert.Equal(t, ExecutionTerminalEvent, event.Type)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, models.ExecutionStatusFailed, event.Status)
	assert.Equal(t, 2, event.Attempt)
	assert.Equal(t, int64(1500), event.DurationMs)
	assert.Equal(t, "boom", event.Error.Message)
}

func TestHealingFailure_JSONFlattensReport(t *testing.T) {
	event := HealingFailure{
		BaseEvent: NewBaseEvent(HealingFailureEvent, "wf-9"),
		HealingReport: HealingReport{
			ExecutionID: "exec-9",
			ErrorType:   models.ErrorTypeTimeout,
			Severity:    models.SeverityMedium,
			Confidence:  0.7,
			StrategyID:  "adjust_timeout",
			Outcome:     models.HealingOutcomeRolledBack,
		},
		FailedStep: &models.StepResult{Order: 2, Action: "set_retry_on_fail", Error: "push failed"},
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"type":"healing.failure"`)
	assert.Contains(t, string(data), `"execution_id":"exec-9"`)
	assert.Contains(t, string(data), `"strategy_id":"adjust_timeout"`)
	assert.Contains(t, string(data), `"outcome":"rolled_back"`)
	assert.Contains(t, string(data), `"failed_step":{`)
}
