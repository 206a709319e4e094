package mocks

import (
	"context"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/scheduler"
	"github.com/stretchr/testify/mock"
)

// MockRunner is a mock of the scheduler operations the fixer uses for validation runs.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Enqueue(ctx context.Context, req scheduler.EnqueueRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

func (m *MockRunner) Wait(ctx context.Context, executionID string) (*models.Execution, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockRunner) Cancel(ctx context.Context, executionID string) error {
	args := m.Called(ctx, executionID)

	return args.Error(0)
}
