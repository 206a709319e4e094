// Package engine is the client for the external workflow engine's REST API.
package engine

import (
	"context"

	"github.com/dukex/flowmedic/pkg/models"
)

// Client is everything the orchestrator needs from the engine.
type Client interface {
	ListWorkflows(ctx context.Context) ([]models.WorkflowSummary, error)
	GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	UpdateWorkflow(ctx context.Context, definition *models.WorkflowDefinition) error
	// ExecuteWorkflow starts a run and returns the engine's execution id.
	ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (string, error)
	GetExecution(ctx context.Context, externalID string) (*ExecutionState, error)
}

// Raw execution statuses reported by the engine.
const (
	StatusNew      = "new"
	StatusRunning  = "running"
	StatusWaiting  = "waiting"
	StatusSuccess  = "success"
	StatusErrored  = "error"
	StatusCrashed  = "crashed"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// ExecutionState is the engine's view of one run.
type ExecutionState struct {
	ID       string
	Status   string
	Finished bool
	Output   map[string]any
	Error    *models.ExecutionError
}

// Outcome maps the engine status to a terminal execution status. The second
// result is false while the run is still in progress.
func (s *ExecutionState) Outcome() (models.ExecutionStatus, bool) {
	switch s.Status {
	case StatusSuccess:
		return models.ExecutionStatusSuccess, true
	case StatusErrored, StatusCrashed, StatusFailed:
		return models.ExecutionStatusFailed, true
	case StatusCanceled:
		return models.ExecutionStatusCanceled, true
	case StatusNew, StatusRunning, StatusWaiting:
		return "", false
	}

	// Older engine versions omit status and only flag completion.
	if s.Finished {
		if s.Error != nil {
			return models.ExecutionStatusFailed, true
		}

		return models.ExecutionStatusSuccess, true
	}

	return "", false
}
