package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/scheduler"
)

// MockScheduler is a mock implementation of scheduler.Scheduler.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Enqueue(ctx context.Context, job *models.ScheduledJob) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockScheduler) CancelByConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)

	return args.Error(0)
}

func (m *MockScheduler) Run(ctx context.Context, handler scheduler.Handler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockScheduler) Stop(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockScheduler) Delayed(ctx context.Context) (int, error) {
	args := m.Called(ctx)

	return args.Int(0), args.Error(1)
}

func (m *MockScheduler) Waiting(ctx context.Context) (int, error) {
	args := m.Called(ctx)

	return args.Int(0), args.Error(1)
}

func (m *MockScheduler) Parked(ctx context.Context) ([]*models.ScheduledJob, error) {
	args := m.Called(ctx)

	jobs, _ := args.Get(0).([]*models.ScheduledJob)

	return jobs, args.Error(1)
}
