package fixer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/eventbus"
	"github.com/dukex/flowmedic/pkg/events"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/otelhelper"
	"github.com/dukex/flowmedic/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var errEngineDown = errors.New("engine down")

type fakeWorkflows struct {
	mu      sync.Mutex
	stored  *models.WorkflowDefinition
	updates int
	failOn  int // 1-based update call that fails; 0 never fails
}

func newFakeWorkflows(t *testing.T, definition *models.WorkflowDefinition) *fakeWorkflows {
	t.Helper()

	stored, err := definition.Clone()
	require.NoError(t, err)

	return &fakeWorkflows{stored: stored}
}

func (f *fakeWorkflows) GetWorkflow(_ context.Context, _ string) (*models.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.stored.Clone()
}

func (f *fakeWorkflows) UpdateWorkflow(_ context.Context, definition *models.WorkflowDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates++
	if f.updates == f.failOn {
		return errEngineDown
	}

	stored, err := definition.Clone()
	if err != nil {
		return err
	}

	f.stored = stored

	return nil
}

func (f *fakeWorkflows) current(t *testing.T) *models.WorkflowDefinition {
	t.Helper()

	definition, err := f.GetWorkflow(context.Background(), "")
	require.NoError(t, err)

	return definition
}

type fakeRunner struct {
	status   models.ExecutionStatus
	requests []scheduler.EnqueueRequest
}

func (r *fakeRunner) Enqueue(_ context.Context, req scheduler.EnqueueRequest) (string, error) {
	r.requests = append(r.requests, req)

	return "validation-1", nil
}

func (r *fakeRunner) Wait(_ context.Context, executionID string) (*models.Execution, error) {
	return &models.Execution{ID: executionID, Status: r.status}, nil
}

func (r *fakeRunner) Cancel(context.Context, string) error {
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func workflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:   "wf-1",
		Name: "Sync orders",
		Nodes: []*models.WorkflowNode{
			{ID: "1", Name: "Trigger", Type: "n8n-nodes-base.manualTrigger"},
			{
				ID:          "2",
				Name:        "HTTP Request",
				Type:        "n8n-nodes-base.httpRequest",
				Parameters:  map[string]any{"url": "https://example.com", "options": map[string]any{"timeout": 10000}},
				Credentials: map[string]any{"httpHeaderAuth": map[string]any{"id": "old", "name": "Old key"}},
			},
		},
	}
}

func newFixer(t *testing.T, workflows Workflows, runner Runner, publisher eventbus.Publisher) *Fixer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(workflows, runner, nil, eventbus.NewNotifier(publisher, logger, nil), otelhelper.NoopTracer(), Config{}, logger)
}

func strategy(t *testing.T, id string) models.FixStrategy {
	t.Helper()

	s, ok := classifier.DefaultCatalog().Strategy(id)
	require.True(t, ok)

	return s
}

func timeoutClassification() *models.Classification {
	return &models.Classification{
		ErrorType: models.ErrorTypeTimeout,
		Detail:    models.TimeoutError{Node: "HTTP Request"},
	}
}

func nodeTimeout(t *testing.T, definition *models.WorkflowDefinition) any {
	t.Helper()

	node := definition.Node("HTTP Request")
	require.NotNil(t, node)

	options, ok := node.Parameters["options"].(map[string]any)
	require.True(t, ok)

	return options["timeout"]
}

func TestApplyFix_ValidatedFixIsKept(t *testing.T) {
	workflows := newFakeWorkflows(t, workflow())
	runner := &fakeRunner{status: models.ExecutionStatusSuccess}
	f := newFixer(t, workflows, runner, &recordingPublisher{})

	result, err := f.ApplyFix(context.Background(), FixRequest{
		ExecutionID:    "exec-1",
		WorkflowID:     "wf-1",
		Classification: timeoutClassification(),
		Strategy:       strategy(t, classifier.StrategyAdjustTimeout),
		Input:          map[string]any{"order": 7},
	})
	require.NoError(t, err)

	assert.Equal(t, models.FixStatusFixed, result.Status)
	assert.Len(t, result.AppliedSteps, 1)
	assert.False(t, result.RolledBack)
	require.NotNil(t, result.TestResult)
	assert.Equal(t, "validation-1", result.TestResult.ExecutionID)
	assert.Equal(t, models.HealingOutcomeFixed, models.OutcomeFor(result))
	assert.InDelta(t, 20000, nodeTimeout(t, workflows.current(t)), 0)

	require.Len(t, runner.requests, 1)
	assert.Equal(t, models.ExecutionModeHealingValidation, runner.requests[0].Mode)
	assert.Equal(t, "exec-1", runner.requests[0].ParentExecutionID)
	assert.Equal(t, map[string]any{"order": 7}, runner.requests[0].Input)
}

func TestApplyFix_SpanCarriesHealingAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := eventbus.NewNotifier(&recordingPublisher{}, logger, nil)

	f := New(newFakeWorkflows(t, workflow()), &fakeRunner{status: models.ExecutionStatusSuccess}, nil,
		notifier, provider.Tracer("test"), Config{}, logger)

	_, err := f.ApplyFix(context.Background(), FixRequest{
		ExecutionID:    "exec-1",
		WorkflowID:     "wf-1",
		Classification: timeoutClassification(),
		Strategy:       strategy(t, classifier.StrategyAdjustTimeout),
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "fixer.apply", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String(otelhelper.HealingErrorTypeKey, string(models.ErrorTypeTimeout)))
	assert.Contains(t, spans[0].Attributes(), attribute.String(otelhelper.StrategyIDKey, classifier.StrategyAdjustTimeout))
	assert.NotContains(t, spans[0].Attributes(), attribute.String(otelhelper.ErrorTypeKey, string(models.ErrorTypeTimeout)))
}

func TestApplyFix_FailedValidationRestoresBackup(t *testing.T) {
	workflows := newFakeWorkflows(t, workflow())
	before := workflows.current(t)
	f := newFixer(t, workflows, &fakeRunner{status: models.ExecutionStatusFailed}, &recordingPublisher{})

	result, err := f.ApplyFix(context.Background(), FixRequest{
		ExecutionID:    "exec-1",
		WorkflowID:     "wf-1",
		Classification: timeoutClassification(),
		Strategy:       strategy(t, classifier.StrategyAdjustTimeout),
	})
	require.NoError(t, err)

	assert.Equal(t, models.FixStatusFailed, result.Status)
	assert.True(t, result.RolledBack)
	assert.False(t, result.Inconsistent)
	assert.True(t, result.AppliedSteps[0].RolledBack)
	assert.Equal(t, models.HealingOutcomeRolledBack, models.OutcomeFor(result))
	assert.Equal(t, before, workflows.current(t))
}

func TestApplyFix_StepFailureRollsBackEarlierSteps(t *testing.T) {
	workflows := newFakeWorkflows(t, workflow())
	workflows.failOn = 2
	before := workflows.current(t)
	runner := &fakeRunner{status: models.ExecutionStatusSuccess}
	f := newFixer(t, workflows, runner, &recordingPublisher{})

	result, err := f.ApplyFix(context.Background(), FixRequest{
		WorkflowID: "wf-1",
		Strategy: models.FixStrategy{
			ID: "combo",
			Steps: []models.FixStep{
				{Order: 2, Action: classifier.ActionIncreaseTimeout, Rollbackable: true},
				{Order: 1, Action: classifier.ActionSetRetryOnFail, Rollbackable: true},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.FixStatusFailed, result.Status)
	require.NotNil(t, result.FailedStep)
	assert.Equal(t, 2, result.FailedStep.Order)
	assert.Contains(t, result.FailedStep.Error, "engine down")
	assert.True(t, result.RolledBack)
	assert.Empty(t, runner.requests)
	assert.Equal(t, before, workflows.current(t))
}

func TestApplyFix_NonRollbackableStepLeavesInconsistentState(t *testing.T) {
	workflows := newFakeWorkflows(t, workflow())
	workflows.failOn = 2
	publisher := &recordingPublisher{}
	f := newFixer(t, workflows, &fakeRunner{}, publisher)

	result, err := f.ApplyFix(context.Background(), FixRequest{
		WorkflowID: "wf-1",
		Parameters: map[string]any{"node": "HTTP Request", "credential_id": "new"},
		Approved:   true,
		Strategy: models.FixStrategy{
			ID:               "rotate",
			RequiresApproval: true,
			Steps: []models.FixStep{
				{Order: 1, Action: classifier.ActionRefreshCredentials},
				{Order: 2, Action: classifier.ActionSetContinueOnFail, Rollbackable: true},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.FixStatusFailed, result.Status)
	assert.True(t, result.Inconsistent)
	assert.False(t, result.RolledBack)
	assert.Equal(t, models.HealingOutcomeFailed, models.OutcomeFor(result))

	credential := workflows.current(t).Node("HTTP Request").Credentials["httpHeaderAuth"].(map[string]any)
	assert.Equal(t, "new", credential["id"])

	require.Len(t, publisher.events, 1)
	assert.Equal(t, events.HealingInconsistentEvent, publisher.events[0].GetType())
}

func TestApplyFix_RequiresApproval(t *testing.T) {
	workflows := newFakeWorkflows(t, workflow())
	f := newFixer(t, workflows, &fakeRunner{status: models.ExecutionStatusSuccess}, &recordingPublisher{})

	req := FixRequest{
		WorkflowID: "wf-1",
		Strategy:   strategy(t, classifier.StrategyRefreshCredentials),
		Parameters: map[string]any{"node": "HTTP Request", "credential_id": "new"},
	}

	_, err := f.ApplyFix(context.Background(), req)
	require.ErrorIs(t, err, ErrApprovalRequired)
	assert.Zero(t, workflows.updates)

	req.Approved = true

	result, err := f.ApplyFix(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.FixStatusFixed, result.Status)
}

func TestApplyFix_DryRunChangesNothing(t *testing.T) {
	workflows := newFakeWorkflows(t, workflow())
	before := workflows.current(t)
	runner := &fakeRunner{}
	f := newFixer(t, workflows, runner, &recordingPublisher{})

	result, err := f.ApplyFix(context.Background(), FixRequest{
		WorkflowID:     "wf-1",
		Classification: timeoutClassification(),
		Strategy:       strategy(t, classifier.StrategyAdjustTimeout),
		DryRun:         true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.FixStatusPending, result.Status)
	assert.True(t, result.AppliedSteps[0].Simulated)
	assert.InDelta(t, 20000, nodeTimeout(t, result.Preview), 0)
	assert.Equal(t, before, result.Backup)
	assert.Zero(t, workflows.updates)
	assert.Empty(t, runner.requests)
	assert.Equal(t, before, workflows.current(t))
}

func TestApplyFix_UnknownNode(t *testing.T) {
	workflows := newFakeWorkflows(t, workflow())
	f := newFixer(t, workflows, &fakeRunner{}, &recordingPublisher{})

	result, err := f.ApplyFix(context.Background(), FixRequest{
		WorkflowID:     "wf-1",
		Classification: &models.Classification{Detail: models.TimeoutError{Node: "Missing"}},
		Strategy:       strategy(t, classifier.StrategyAdjustTimeout),
	})
	require.NoError(t, err)

	assert.Equal(t, models.FixStatusFailed, result.Status)
	require.NotNil(t, result.FailedStep)
	assert.Contains(t, result.FailedStep.Error, ErrNodeNotFound.Error())
	assert.Zero(t, workflows.updates)
}

func TestApplyFix_UnknownAction(t *testing.T) {
	f := newFixer(t, newFakeWorkflows(t, workflow()), &fakeRunner{}, &recordingPublisher{})

	result, err := f.ApplyFix(context.Background(), FixRequest{
		WorkflowID: "wf-1",
		Strategy:   models.FixStrategy{ID: "x", Steps: []models.FixStep{{Order: 1, Action: "reboot_universe"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.FixStatusFailed, result.Status)
	assert.Contains(t, result.FailedStep.Error, "reboot_universe")
}

func TestApplyFix_InvalidRequest(t *testing.T) {
	f := newFixer(t, newFakeWorkflows(t, workflow()), &fakeRunner{}, &recordingPublisher{})

	_, err := f.ApplyFix(context.Background(), FixRequest{WorkflowID: "wf-1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestIncreaseTimeout_CapsAtMaximum(t *testing.T) {
	node := &models.WorkflowNode{Name: "n", Parameters: map[string]any{"options": map[string]any{"timeout": 250000}}}

	_, err := increaseTimeout{}.Apply([]*models.WorkflowNode{node}, map[string]any{"max_ms": 300000})
	require.NoError(t, err)
	assert.Equal(t, 300000, node.Parameters["options"].(map[string]any)["timeout"])

	_, err = increaseTimeout{}.Apply([]*models.WorkflowNode{node}, map[string]any{"max_ms": 300000})
	require.ErrorIs(t, err, ErrNoChange)
}

func TestIncreaseTimeout_RestoreRemovesAddedOptions(t *testing.T) {
	backup := &models.WorkflowNode{Name: "n"}
	node := &models.WorkflowNode{Name: "n"}

	_, err := increaseTimeout{}.Apply([]*models.WorkflowNode{node}, nil)
	require.NoError(t, err)
	assert.Equal(t, 20000, node.Parameters["options"].(map[string]any)["timeout"])

	increaseTimeout{}.Restore(node, backup)
	assert.Equal(t, backup, node)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{
		classifier.ActionIncreaseTimeout,
		classifier.ActionRefreshCredentials,
		classifier.ActionRewriteExpression,
		classifier.ActionSetContinueOnFail,
		classifier.ActionSetRetryOnFail,
	}, r.Names())

	_, err := r.Get("nope")
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestTargetNode(t *testing.T) {
	assert.Equal(t, "A", targetNode(models.APIError{Node: "A"}))
	assert.Equal(t, "B", targetNode(models.CredentialMissingError{Node: "B"}))
	assert.Empty(t, targetNode(nil))
}
