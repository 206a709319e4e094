package healing

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/events"
	"github.com/dukex/flowmedic/pkg/fixer"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_ApprovedCredentialFix(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, fixedResult)
	h.fail(t, "exec-1", "wf-1", models.ExecutionModeManual, &models.ExecutionError{Message: "invalid api key", NodeName: "Slack"})

	fix, err := h.loop.Apply(context.Background(), FixRequest{
		ExecutionID: "exec-1",
		Parameters:  map[string]any{"credential_id": "cred-2"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ErrorTypeAuthentication, fix.Classification.ErrorType)
	assert.Equal(t, classifier.StrategyRefreshCredentials, fix.Strategy.ID)
	require.NotNil(t, fix.Entry)
	assert.Equal(t, models.HealingOutcomeFixed, fix.Entry.Outcome)

	require.Equal(t, 1, h.fixer.calls())
	req := h.fixer.requests[0]
	assert.True(t, req.Approved)
	assert.False(t, req.DryRun)
	assert.Equal(t, "cred-2", req.Parameters["credential_id"])

	assert.Len(t, h.entries(t, persistence.HealingFilter{ExecutionID: "exec-1"}), 1)
	assert.Equal(t, 1, h.publisher.count(events.HealingSuccessEvent))
}

func TestPreview_DoesNotRecord(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, func(req fixer.FixRequest) (*models.FixResult, error) {
		return &models.FixResult{StrategyID: req.Strategy.ID, Status: models.FixStatusPending}, nil
	})
	h.fail(t, "exec-1", "wf-1", models.ExecutionModeManual, timeoutFailure())

	fix, err := h.loop.Preview(context.Background(), FixRequest{ExecutionID: "exec-1"})
	require.NoError(t, err)

	assert.Equal(t, models.FixStatusPending, fix.Result.Status)
	assert.Nil(t, fix.Entry)
	assert.True(t, h.fixer.requests[0].DryRun)
	assert.Empty(t, h.entries(t, persistence.HealingFilter{}))
}

func TestApply_StrategyOverride(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, failedResult)
	h.fail(t, "exec-1", "wf-1", models.ExecutionModeManual, timeoutFailure())

	fix, err := h.loop.Apply(context.Background(), FixRequest{ExecutionID: "exec-1", StrategyID: classifier.StrategyEnableRetry})
	require.NoError(t, err)

	assert.Equal(t, classifier.StrategyEnableRetry, fix.Strategy.ID)
	assert.Equal(t, models.HealingOutcomeRolledBack, fix.Entry.Outcome)
	assert.Equal(t, 1, h.publisher.count(events.HealingFailureEvent))
}

func TestApply_Rejects(t *testing.T) {
	h := newHarness(t, DefaultConfig(), nil, fixedResult)
	h.fail(t, "exec-1", "wf-1", models.ExecutionModeManual, timeoutFailure())

	now := time.Now().UTC()
	require.NoError(t, h.store.Executions().Save(context.Background(), &models.Execution{
		ID:          "exec-ok",
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusSuccess,
		Priority:    models.PriorityNormal,
		Mode:        models.ExecutionModeManual,
		Attempt:     1,
		MaxAttempts: 1,
		CreatedAt:   now,
	}))

	_, err := h.loop.Apply(context.Background(), FixRequest{ExecutionID: "missing"})
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = h.loop.Apply(context.Background(), FixRequest{ExecutionID: "exec-ok"})
	assert.ErrorIs(t, err, ErrNotHealable)

	_, err = h.loop.Apply(context.Background(), FixRequest{ExecutionID: "exec-1", StrategyID: "nope"})
	assert.ErrorIs(t, err, ErrNoStrategy)

	assert.Zero(t, h.fixer.calls())
}
