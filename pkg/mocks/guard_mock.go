package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGuard is a mock implementation of guard.Guard interface.
type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Acquire(ctx context.Context, workflowID int64, executionID string) (bool, error) {
	args := m.Called(ctx, workflowID, executionID)

	return args.Bool(0), args.Error(1)
}

func (m *MockGuard) Release(ctx context.Context, workflowID int64) error {
	args := m.Called(ctx, workflowID)

	return args.Error(0)
}

func (m *MockGuard) Active(ctx context.Context, workflowID int64) (string, bool, error) {
	args := m.Called(ctx, workflowID)

	return args.String(0), args.Bool(1), args.Error(2)
}
