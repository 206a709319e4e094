package healing

import (
	"context"
	"fmt"

	"github.com/dukex/flowmedic/pkg/fixer"
	"github.com/dukex/flowmedic/pkg/models"
)

// FixRequest asks for a fix chosen or approved by an operator.
type FixRequest struct {
	ExecutionID string `json:"execution_id" validate:"required"`
	// StrategyID overrides the strategy picked from the classification.
	StrategyID string         `json:"strategy_id"`
	Parameters map[string]any `json:"parameters"`
}

// ManualFix is the outcome of an operator-driven fix.
type ManualFix struct {
	Classification *models.Classification `json:"classification"`
	Strategy       models.FixStrategy     `json:"strategy"`
	Result         *models.FixResult      `json:"result"`
	Entry          *models.HealingEntry   `json:"entry,omitempty"`
}

// Preview simulates the fix for a failed execution without touching the engine.
func (l *Loop) Preview(ctx context.Context, req FixRequest) (*ManualFix, error) {
	return l.manual(ctx, req, true)
}

// Apply runs an approved fix for a failed execution. Approval gates, severity
// filters and the cooldown budget do not apply; the attempt is still recorded
// in the healing history and counts against the workflow's budget.
func (l *Loop) Apply(ctx context.Context, req FixRequest) (*ManualFix, error) {
	return l.manual(ctx, req, false)
}

func (l *Loop) manual(ctx context.Context, req FixRequest, dryRun bool) (*ManualFix, error) {
	execution, err := l.executions.Get(ctx, req.ExecutionID)
	if err != nil {
		return nil, err
	}

	if !execution.Status.IsTerminal() || execution.Status == models.ExecutionStatusSuccess || execution.Error == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotHealable, execution.ID, execution.Status)
	}

	classification := l.classifier.Classify(ctx, execution.Error)

	strategy, err := l.strategy(classification, req.StrategyID)
	if err != nil {
		return nil, err
	}

	logger := l.logger.With("execution_id", execution.ID, "workflow_id", execution.WorkflowID, "dry_run", dryRun)
	logger.InfoContext(ctx, "Operator fix requested", "strategy_id", strategy.ID)

	result, fixErr := l.fixer.ApplyFix(ctx, fixer.FixRequest{
		ExecutionID:    execution.ID,
		WorkflowID:     execution.WorkflowID,
		Classification: classification,
		Strategy:       strategy,
		Input:          execution.Input,
		Parameters:     req.Parameters,
		DryRun:         dryRun,
		Approved:       !dryRun,
	})

	fix := &ManualFix{Classification: classification, Strategy: strategy, Result: result}

	if dryRun {
		return fix, fixErr
	}

	fix.Entry = l.record(ctx, logger, execution, classification, strategy, result, fixErr)

	return fix, fixErr
}

func (l *Loop) strategy(classification *models.Classification, id string) (models.FixStrategy, error) {
	catalog := l.classifier.Catalog()

	if id != "" {
		strategy, ok := catalog.Strategy(id)
		if !ok {
			return models.FixStrategy{}, fmt.Errorf("%w: unknown strategy %q", ErrNoStrategy, id)
		}

		return strategy, nil
	}

	strategy, err := catalog.StrategyFor(classification)
	if err != nil {
		return models.FixStrategy{}, fmt.Errorf("%w: %w", ErrNoStrategy, err)
	}

	return strategy, nil
}
