package mocks

import (
	"context"

	"github.com/dukex/flowmedic/pkg/engine"
	"github.com/dukex/flowmedic/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of engine.Client interface.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) ListWorkflows(ctx context.Context) ([]models.WorkflowSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.WorkflowSummary), args.Error(1)
}

func (m *MockEngine) GetWorkflow(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockEngine) UpdateWorkflow(ctx context.Context, definition *models.WorkflowDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

func (m *MockEngine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (string, error) {
	args := m.Called(ctx, workflowID, input)

	return args.String(0), args.Error(1)
}

func (m *MockEngine) GetExecution(ctx context.Context, externalID string) (*engine.ExecutionState, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*engine.ExecutionState), args.Error(1)
}
