// Package fixer applies fix strategies to engine workflows with backup, rollback and validation.
package fixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/dukex/flowmedic/pkg/eventbus"
	"github.com/dukex/flowmedic/pkg/events"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/otelhelper"
	"github.com/dukex/flowmedic/pkg/scheduler"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultValidationTimeout = 10 * time.Minute

// Workflows reads and replaces workflow definitions on the engine.
type Workflows interface {
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	UpdateWorkflow(ctx context.Context, definition *models.WorkflowDefinition) error
}

// Runner starts validation executions and waits for their outcome.
type Runner interface {
	Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (string, error)
	Wait(ctx context.Context, executionID string) (*models.Execution, error)
	Cancel(ctx context.Context, executionID string) error
}

type Config struct {
	ValidationPriority models.Priority
	ValidationTimeout  time.Duration
}

type FixRequest struct {
	ExecutionID    string
	WorkflowID     string
	Classification *models.Classification
	Strategy       models.FixStrategy
	// Input is replayed by the validation run.
	Input map[string]any
	// Parameters override step parameters, e.g. the replacement credential.
	Parameters map[string]any
	DryRun     bool
	Approved   bool
}

type Fixer struct {
	workflows Workflows
	runner    Runner
	registry  *Registry
	notifier  *eventbus.Notifier
	tracer    trace.Tracer
	config    Config
	logger    *slog.Logger
}

func New(
	workflows Workflows,
	runner Runner,
	registry *Registry,
	notifier *eventbus.Notifier,
	tracer trace.Tracer,
	config Config,
	logger *slog.Logger,
) *Fixer {
	if registry == nil {
		registry = NewRegistry()
	}

	if config.ValidationPriority == "" {
		config.ValidationPriority = models.PriorityHigh
	}

	if config.ValidationTimeout <= 0 {
		config.ValidationTimeout = DefaultValidationTimeout
	}

	return &Fixer{
		workflows: workflows,
		runner:    runner,
		registry:  registry,
		notifier:  notifier,
		tracer:    tracer,
		config:    config,
		logger:    logger.With("module", "fixer"),
	}
}

type appliedStep struct {
	step   models.FixStep
	action Action
	nodes  []string
}

// ApplyFix backs up the workflow, applies each step in order and validates the
// result with a fresh execution. Failed steps and failed validations roll back
// every applied rollbackable step. A dry run only simulates the steps.
func (f *Fixer) ApplyFix(ctx context.Context, req FixRequest) (*models.FixResult, error) {
	if req.WorkflowID == "" || len(req.Strategy.Steps) == 0 {
		return nil, fmt.Errorf("%w: workflow id and strategy steps are required", ErrInvalidRequest)
	}

	if req.Strategy.RequiresApproval && !req.Approved && !req.DryRun {
		return nil, fmt.Errorf("%w: %s", ErrApprovalRequired, req.Strategy.ID)
	}

	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "fixer.apply",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
		attribute.String(otelhelper.StrategyIDKey, req.Strategy.ID),
		attribute.Bool("flowmedic.fix.dry_run", req.DryRun),
	)
	defer span.End()

	if req.Classification != nil {
		span.SetAttributes(attribute.String(otelhelper.HealingErrorTypeKey, string(req.Classification.ErrorType)))
	}

	logger := f.logger.With(
		"workflow_id", req.WorkflowID,
		"execution_id", req.ExecutionID,
		"strategy_id", req.Strategy.ID,
		"dry_run", req.DryRun,
	)

	backup, err := f.workflows.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to back up workflow %s: %w", req.WorkflowID, err)
	}

	working, err := backup.Clone()
	if err != nil {
		return nil, err
	}

	// pushed mirrors what the engine currently holds.
	pushed, err := backup.Clone()
	if err != nil {
		return nil, err
	}

	result := &models.FixResult{
		StrategyID:   req.Strategy.ID,
		AppliedSteps: []models.StepResult{},
		Backup:       backup,
	}

	steps := slices.Clone(req.Strategy.Steps)
	slices.SortStableFunc(steps, func(a, b models.FixStep) int { return a.Order - b.Order })

	var applied []appliedStep

	for _, step := range steps {
		stepResult := models.StepResult{
			Order:     step.Order,
			Action:    step.Action,
			Simulated: req.DryRun,
		}

		nodes, action, description, err := f.applyStep(working, step, req)
		if err == nil && !req.DryRun {
			err = f.workflows.UpdateWorkflow(ctx, working)
		}

		if err != nil {
			stepResult.Error = err.Error()
			result.FailedStep = &stepResult

			logger.WarnContext(ctx, "Fix step failed", "order", step.Order, "action", step.Action, "error", err)

			if req.DryRun {
				result.Status = models.FixStatusPending
				result.Preview = working
				result.Message = "dry run: step " + step.Action + " would fail"

				return result, nil
			}

			f.rollback(ctx, logger, pushed, backup, applied, result)
			result.Status = models.FixStatusFailed
			result.Message = fmt.Sprintf("step %d (%s) failed: %v", step.Order, step.Action, err)
			f.reportInconsistent(ctx, req, result)

			return result, nil
		}

		stepResult.Description = description
		result.AppliedSteps = append(result.AppliedSteps, stepResult)
		applied = append(applied, appliedStep{step: step, action: action, nodes: nodes})

		if !req.DryRun {
			pushed, err = working.Clone()
			if err != nil {
				return nil, err
			}
		}
	}

	if req.DryRun {
		result.Status = models.FixStatusPending
		result.Preview = working
		result.Message = fmt.Sprintf("dry run: %d step(s) would be applied", len(applied))

		logger.InfoContext(ctx, "Fix previewed")

		return result, nil
	}

	run, err := f.validate(ctx, req)
	result.TestResult = run

	if err == nil && run.Status == models.ExecutionStatusSuccess {
		result.Status = models.FixStatusFixed
		result.Message = "validation run succeeded"

		logger.InfoContext(ctx, "Fix applied and validated", "validation_execution_id", run.ExecutionID)

		return result, nil
	}

	if err != nil {
		result.Message = "validation run did not finish: " + err.Error()
	} else {
		result.Message = "validation run ended " + string(run.Status)
	}

	logger.WarnContext(ctx, "Fix validation failed, rolling back", "validation_execution_id", run.ExecutionID, "reason", result.Message)

	f.rollback(ctx, logger, pushed, backup, applied, result)
	result.Status = models.FixStatusFailed
	f.reportInconsistent(ctx, req, result)

	return result, nil
}

func (f *Fixer) applyStep(working *models.WorkflowDefinition, step models.FixStep, req FixRequest) ([]string, Action, string, error) {
	action, err := f.registry.Get(step.Action)
	if err != nil {
		return nil, nil, "", err
	}

	params := make(map[string]any, len(step.Parameters)+len(req.Parameters))
	maps.Copy(params, step.Parameters)
	maps.Copy(params, req.Parameters)

	nodes, err := selectNodes(working, target(req, params))
	if err != nil {
		return nil, nil, "", err
	}

	description, err := action.Apply(nodes, params)
	if err != nil {
		return nil, nil, "", err
	}

	names := make([]string, len(nodes))
	for i, node := range nodes {
		names[i] = node.Name
	}

	return names, action, description, nil
}

// rollback restores the fields of every applied rollbackable step, newest first,
// on top of what the engine currently holds and pushes the result.
func (f *Fixer) rollback(
	ctx context.Context,
	logger *slog.Logger,
	current, backup *models.WorkflowDefinition,
	applied []appliedStep,
	result *models.FixResult,
) {
	ctx = context.WithoutCancel(ctx)

	var restored []int

	for i := len(applied) - 1; i >= 0; i-- {
		restorer, ok := applied[i].action.(Restorer)
		if !applied[i].step.Rollbackable || !ok {
			result.Inconsistent = true

			continue
		}

		for _, name := range applied[i].nodes {
			node, original := current.Node(name), backup.Node(name)
			if node != nil && original != nil {
				restorer.Restore(node, original)
			}
		}

		restored = append(restored, i)
	}

	if len(restored) == 0 {
		return
	}

	err := f.workflows.UpdateWorkflow(ctx, current)
	if err != nil {
		result.Inconsistent = true
		logger.ErrorContext(ctx, "Failed to push rolled back workflow", "error", err)

		return
	}

	for _, i := range restored {
		result.AppliedSteps[i].RolledBack = true
	}

	result.RolledBack = true

	logger.InfoContext(ctx, "Rolled back fix steps", "steps", len(restored))
}

func (f *Fixer) validate(ctx context.Context, req FixRequest) (*models.ValidationRun, error) {
	id, err := f.runner.Enqueue(ctx, scheduler.EnqueueRequest{
		WorkflowID:        req.WorkflowID,
		Input:             req.Input,
		Priority:          f.config.ValidationPriority,
		Mode:              models.ExecutionModeHealingValidation,
		ParentExecutionID: req.ExecutionID,
	})
	if err != nil {
		return &models.ValidationRun{}, fmt.Errorf("failed to start validation run: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, f.config.ValidationTimeout)
	defer cancel()

	execution, err := f.runner.Wait(waitCtx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			cancelErr := f.runner.Cancel(context.WithoutCancel(ctx), id)
			if cancelErr != nil {
				f.logger.WarnContext(ctx, "Failed to cancel validation run", "validation_execution_id", id, "error", cancelErr)
			}
		}

		return &models.ValidationRun{ExecutionID: id}, err
	}

	return &models.ValidationRun{
		ExecutionID: id,
		Status:      execution.Status,
		Error:       execution.Error,
	}, nil
}

func (f *Fixer) reportInconsistent(ctx context.Context, req FixRequest, result *models.FixResult) {
	if !result.Inconsistent {
		return
	}

	f.logger.ErrorContext(ctx, "Fix left the workflow inconsistent",
		"workflow_id", req.WorkflowID,
		"strategy_id", req.Strategy.ID,
	)

	f.notifier.Notify(ctx, req.WorkflowID, events.HealingInconsistent{
		BaseEvent:    events.NewBaseEvent(events.HealingInconsistentEvent, req.WorkflowID),
		ExecutionID:  req.ExecutionID,
		StrategyID:   req.Strategy.ID,
		AppliedSteps: result.AppliedSteps,
		FailedStep:   result.FailedStep,
	})
}

// target picks the node a fix applies to: an explicit "node" parameter, else the
// node the classifier attributed the failure to.
func target(req FixRequest, params map[string]any) string {
	if node, ok := params["node"].(string); ok && node != "" {
		return node
	}

	if req.Classification == nil {
		return ""
	}

	return targetNode(req.Classification.Detail)
}

func targetNode(detail models.ErrorDetail) string {
	switch d := detail.(type) {
	case models.NodeConnectionError:
		return d.Node
	case models.AuthenticationError:
		return d.Node
	case models.CredentialMissingError:
		return d.Node
	case models.TimeoutError:
		return d.Node
	case models.DataFormatError:
		return d.Node
	case models.APIError:
		return d.Node
	case models.InvalidExpressionError:
		return d.Node
	case models.UnknownError:
		return d.Node
	default:
		return ""
	}
}

// selectNodes returns the named node, or every enabled node when no name is given.
func selectNodes(definition *models.WorkflowDefinition, name string) ([]*models.WorkflowNode, error) {
	if name != "" {
		node := definition.Node(name)
		if node == nil {
			return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
		}

		return []*models.WorkflowNode{node}, nil
	}

	var nodes []*models.WorkflowNode

	for _, node := range definition.Nodes {
		if !node.Disabled {
			nodes = append(nodes, node)
		}
	}

	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: workflow has no enabled nodes", ErrNodeNotFound)
	}

	return nodes, nil
}
