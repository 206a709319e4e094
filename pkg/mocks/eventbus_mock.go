// Package mocks provides testify mocks for the interfaces components depend on.
package mocks

import (
	"context"

	"github.com/dukex/flowmedic/pkg/eventbus"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of eventbus.Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}
