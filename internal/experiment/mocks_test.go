package experiment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/rafaeljc/leadflow/internal/events"
	"github.com/rafaeljc/leadflow/internal/stats"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateTest(ctx context.Context, t *Test) error {
	args := m.Called(ctx, t)

	return args.Error(0)
}

func (m *MockRepository) GetTest(ctx context.Context, id string) (*Test, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*Test), args.Error(1)
}

func (m *MockRepository) GetRunningTestForFlow(ctx context.Context, baseFlowID string) (*Test, error) {
	args := m.Called(ctx, baseFlowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*Test), args.Error(1)
}

func (m *MockRepository) ListTestsByStatus(ctx context.Context, status Status) ([]Test, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]Test), args.Error(1)
}

func (m *MockRepository) UpdateTestStatus(ctx context.Context, id string, from, to Status, at time.Time) error {
	args := m.Called(ctx, id, from, to, at)

	return args.Error(0)
}

func (m *MockRepository) RecordInteraction(ctx context.Context, i *Interaction) error {
	args := m.Called(ctx, i)

	return args.Error(0)
}

func (m *MockRepository) CountInteractions(ctx context.Context, testID string) (map[string]Tally, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]Tally), args.Error(1)
}

func (m *MockRepository) SaveResults(ctx context.Context, r *stats.Results) error {
	args := m.Called(ctx, r)

	return args.Error(0)
}

func (m *MockRepository) GetSavedResults(ctx context.Context, testID string) (*stats.Results, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stats.Results), args.Error(1)
}

func (m *MockRepository) GetPublishedFlow(ctx context.Context, flowID string) (*FlowVersion, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*FlowVersion), args.Error(1)
}

func (m *MockRepository) PublishFlowVersion(ctx context.Context, flowID string, payload json.RawMessage, at time.Time) (int, error) {
	args := m.Called(ctx, flowID, payload, at)

	return args.Int(0), args.Error(1)
}

func (m *MockRepository) PromoteWinner(ctx context.Context, p Promotion) (int, error) {
	args := m.Called(ctx, p)

	return args.Int(0), args.Error(1)
}

type MockResultsCache struct {
	mock.Mock
}

func (m *MockResultsCache) GetResults(ctx context.Context, testID string) (*stats.Results, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*stats.Results), args.Error(1)
}

func (m *MockResultsCache) SetResults(ctx context.Context, r *stats.Results) error {
	args := m.Called(ctx, r)

	return args.Error(0)
}

func (m *MockResultsCache) DeleteResults(ctx context.Context, testID string) error {
	args := m.Called(ctx, testID)

	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishAssignment(ctx context.Context, e events.AssignmentEvent) error {
	args := m.Called(ctx, e)

	return args.Error(0)
}

func (m *MockPublisher) PublishPromotion(ctx context.Context, e events.PromotionEvent) error {
	args := m.Called(ctx, e)

	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()

	return args.Error(0)
}
