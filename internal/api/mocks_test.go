package api_test

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/rafaeljc/leadflow/internal/experiment"
	"github.com/rafaeljc/leadflow/internal/logic"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
	"github.com/rafaeljc/leadflow/internal/stats"
)

type MockLogicService struct {
	mock.Mock
}

func (m *MockLogicService) ExecuteLogicRules(ctx context.Context, flowID string, state ruleengine.State, fired ruleengine.Trigger) ruleengine.ExecutionResult {
	args := m.Called(ctx, flowID, state, fired)
	return args.Get(0).(ruleengine.ExecutionResult)
}

func (m *MockLogicService) ListRules(ctx context.Context, flowID string) ([]ruleengine.LogicRule, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ruleengine.LogicRule), args.Error(1)
}

func (m *MockLogicService) GetRule(ctx context.Context, flowID, ruleID string) (*ruleengine.LogicRule, error) {
	args := m.Called(ctx, flowID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ruleengine.LogicRule), args.Error(1)
}

func (m *MockLogicService) CreateRule(ctx context.Context, r ruleengine.LogicRule) logic.Result {
	return m.Called(ctx, r).Get(0).(logic.Result)
}

func (m *MockLogicService) UpdateRule(ctx context.Context, r ruleengine.LogicRule) logic.Result {
	return m.Called(ctx, r).Get(0).(logic.Result)
}

func (m *MockLogicService) DeleteRule(ctx context.Context, flowID, ruleID string) logic.Result {
	return m.Called(ctx, flowID, ruleID).Get(0).(logic.Result)
}

func (m *MockLogicService) GetRuleMetrics(ctx context.Context, flowID, ruleID string) (*logic.RuleMetrics, error) {
	args := m.Called(ctx, flowID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*logic.RuleMetrics), args.Error(1)
}

func (m *MockLogicService) ListProfiles(ctx context.Context, flowID string) ([]ruleengine.PersonalizationProfile, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ruleengine.PersonalizationProfile), args.Error(1)
}

func (m *MockLogicService) CreateProfile(ctx context.Context, p ruleengine.PersonalizationProfile) logic.Result {
	return m.Called(ctx, p).Get(0).(logic.Result)
}

func (m *MockLogicService) UpdateProfile(ctx context.Context, p ruleengine.PersonalizationProfile) logic.Result {
	return m.Called(ctx, p).Get(0).(logic.Result)
}

func (m *MockLogicService) DeleteProfile(ctx context.Context, flowID, profileID string) logic.Result {
	return m.Called(ctx, flowID, profileID).Get(0).(logic.Result)
}

type MockExperimentService struct {
	mock.Mock
}

func (m *MockExperimentService) GetTestFlow(ctx context.Context, baseFlowID, visitorID string) experiment.Assignment {
	return m.Called(ctx, baseFlowID, visitorID).Get(0).(experiment.Assignment)
}

func (m *MockExperimentService) RecordInteraction(ctx context.Context, in experiment.Interaction) experiment.Result {
	return m.Called(ctx, in).Get(0).(experiment.Result)
}

func (m *MockExperimentService) CreateTest(ctx context.Context, req experiment.CreateTestRequest) experiment.Result {
	return m.Called(ctx, req).Get(0).(experiment.Result)
}

func (m *MockExperimentService) GetTest(ctx context.Context, testID string) (*experiment.Test, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*experiment.Test), args.Error(1)
}

func (m *MockExperimentService) ListTests(ctx context.Context, status experiment.Status) ([]experiment.Test, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]experiment.Test), args.Error(1)
}

func (m *MockExperimentService) StartTest(ctx context.Context, testID string) experiment.Result {
	return m.Called(ctx, testID).Get(0).(experiment.Result)
}

func (m *MockExperimentService) PauseTest(ctx context.Context, testID string) experiment.Result {
	return m.Called(ctx, testID).Get(0).(experiment.Result)
}

func (m *MockExperimentService) StopTest(ctx context.Context, testID string) experiment.Result {
	return m.Called(ctx, testID).Get(0).(experiment.Result)
}

func (m *MockExperimentService) GetResults(ctx context.Context, testID string) (*stats.Results, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stats.Results), args.Error(1)
}

func (m *MockExperimentService) CalculateResults(ctx context.Context, testID string) (*stats.Results, error) {
	args := m.Called(ctx, testID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stats.Results), args.Error(1)
}

func (m *MockExperimentService) PromoteWinner(ctx context.Context, testID, winnerVariantID string) experiment.Result {
	return m.Called(ctx, testID, winnerVariantID).Get(0).(experiment.Result)
}

func (m *MockExperimentService) GetPublishedFlow(ctx context.Context, flowID string) (*experiment.FlowVersion, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*experiment.FlowVersion), args.Error(1)
}

func (m *MockExperimentService) PublishFlow(ctx context.Context, flowID string, payload json.RawMessage) experiment.Result {
	return m.Called(ctx, flowID, payload).Get(0).(experiment.Result)
}
