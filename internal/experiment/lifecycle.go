package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rafaeljc/leadflow/internal/outcome"
	"github.com/rafaeljc/leadflow/internal/tracing"
)

const (
	defaultTrafficSplit    = 50
	defaultMinSampleSize   = 100
	defaultConfidenceLevel = 95
	defaultSuccessMetric   = "conversion_rate"
)

// VariantSpec describes one extra arm when a test needs more than the
// default control/variant pair.
type VariantSpec struct {
	Name              string `json:"name" validate:"required,max=255"`
	TrafficAllocation int    `json:"trafficAllocation" validate:"gte=0,lte=100"`
}

// CreateTestRequest is the input to CreateTest. Zero values take defaults:
// a 50% split, 100 views per variant and 95% confidence.
type CreateTestRequest struct {
	BaseFlowID      string `json:"baseFlowId" validate:"required"`
	Name            string `json:"name" validate:"required,max=255"`
	Description     string `json:"description" validate:"max=2000"`
	TrafficSplit    int    `json:"trafficSplit" validate:"gte=0,lte=100"`
	MinSampleSize   int64  `json:"minSampleSize" validate:"gte=0"`
	ConfidenceLevel int    `json:"confidenceLevel" validate:"omitempty,oneof=90 95 99"`
	SuccessMetric   string `json:"successMetric" validate:"max=100"`
	VariantName     string `json:"variantName" validate:"max=255"`

	// ControlAllocation and Variants replace TrafficSplit for multi-arm tests.
	// Allocations must sum to 100 including control.
	ControlAllocation int           `json:"controlAllocation" validate:"gte=0,lte=100"`
	Variants          []VariantSpec `json:"variants" validate:"dive"`
}

// CreateTest stores a draft test. The control variant serves the base flow;
// each other variant gets its own flow seeded with a copy of the base flow's
// published payload.
func (s *Service) CreateTest(ctx context.Context, req CreateTestRequest) Result {
	ctx, span := tracer.Start(ctx, "experiment.CreateTest")
	defer span.End()

	if errs := validateCreate(req); len(errs) > 0 {
		return failure(outcome.Invalid, errs...)
	}

	base, err := s.repo.GetPublishedFlow(ctx, req.BaseFlowID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return failure(outcome.Invalid, "base flow has no published version")
		}
		tracing.SetError(span, err)
		return s.storageFailure(ctx, "load base flow", err)
	}

	now := s.now()
	test := &Test{
		ID:              uuid.NewString(),
		BaseFlowID:      req.BaseFlowID,
		Name:            strings.TrimSpace(req.Name),
		Description:     req.Description,
		Status:          StatusDraft,
		TrafficSplit:    req.TrafficSplit,
		MinSampleSize:   req.MinSampleSize,
		ConfidenceLevel: req.ConfidenceLevel,
		SuccessMetric:   req.SuccessMetric,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	applyDefaults(test, &req)

	test.Variants = append(test.Variants, Variant{
		ID:                uuid.NewString(),
		TestID:            test.ID,
		Name:              "Control",
		FlowID:            req.BaseFlowID,
		IsControl:         true,
		TrafficAllocation: controlAllocation(req),
		Payload:           copyPayload(base.Payload),
	})
	for _, spec := range variantSpecs(req) {
		test.Variants = append(test.Variants, Variant{
			ID:                uuid.NewString(),
			TestID:            test.ID,
			Name:              spec.Name,
			FlowID:            uuid.NewString(),
			TrafficAllocation: spec.TrafficAllocation,
			Position:          len(test.Variants),
			Payload:           copyPayload(base.Payload),
		})
	}

	if err := s.repo.CreateTest(ctx, test); err != nil {
		tracing.SetError(span, err)
		return s.storageFailure(ctx, "create test", err)
	}

	span.SetAttributes(attribute.String("test.id", test.ID))
	s.log(ctx).Info("test created",
		slog.String("test_id", test.ID),
		slog.String("base_flow_id", test.BaseFlowID),
		slog.Int("variants", len(test.Variants)),
	)
	return Result{Success: true, TestID: test.ID}
}

func validateCreate(req CreateTestRequest) []string {
	var errs []string
	if strings.TrimSpace(req.BaseFlowID) == "" {
		errs = append(errs, "baseFlowId is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		errs = append(errs, "name is required")
	}
	switch req.ConfidenceLevel {
	case 0, 90, 95, 99:
	default:
		errs = append(errs, "confidenceLevel must be 90, 95 or 99")
	}
	if req.MinSampleSize < 0 {
		errs = append(errs, "minSampleSize must not be negative")
	}
	if len(req.Variants) == 0 {
		if req.TrafficSplit < 0 || req.TrafficSplit > 100 {
			errs = append(errs, "trafficSplit must be between 0 and 100")
		}
		return errs
	}

	sum := req.ControlAllocation
	for i, v := range req.Variants {
		if strings.TrimSpace(v.Name) == "" {
			errs = append(errs, fmt.Sprintf("variant %d: name is required", i))
		}
		if v.TrafficAllocation < 0 {
			errs = append(errs, fmt.Sprintf("variant %d: trafficAllocation must not be negative", i))
		}
		sum += v.TrafficAllocation
	}
	if req.ControlAllocation < 0 {
		errs = append(errs, "controlAllocation must not be negative")
	}
	if sum != 100 {
		errs = append(errs, fmt.Sprintf("traffic allocations must sum to 100, got %d", sum))
	}
	return errs
}

func applyDefaults(t *Test, req *CreateTestRequest) {
	if len(req.Variants) == 0 && req.TrafficSplit == 0 {
		req.TrafficSplit = defaultTrafficSplit
	}
	if len(req.Variants) > 0 {
		req.TrafficSplit = 100 - req.ControlAllocation
	}
	t.TrafficSplit = req.TrafficSplit
	if t.MinSampleSize == 0 {
		t.MinSampleSize = defaultMinSampleSize
	}
	if t.ConfidenceLevel == 0 {
		t.ConfidenceLevel = defaultConfidenceLevel
	}
	if t.SuccessMetric == "" {
		t.SuccessMetric = defaultSuccessMetric
	}
}

func controlAllocation(req CreateTestRequest) int {
	if len(req.Variants) > 0 {
		return req.ControlAllocation
	}
	return 100 - req.TrafficSplit
}

func variantSpecs(req CreateTestRequest) []VariantSpec {
	if len(req.Variants) > 0 {
		return req.Variants
	}
	name := req.VariantName
	if name == "" {
		name = "Variant A"
	}
	return []VariantSpec{{Name: name, TrafficAllocation: req.TrafficSplit}}
}

// StartTest moves a draft or paused test to running. A base flow runs at
// most one test at a time.
func (s *Service) StartTest(ctx context.Context, testID string) Result {
	test, err := s.repo.GetTest(ctx, testID)
	if err != nil {
		return s.storageFailure(ctx, "load test", err)
	}
	if !test.Status.CanTransition(StatusRunning) {
		return failure(outcome.Conflict, fmt.Sprintf("cannot start a %s test", test.Status))
	}

	running, err := s.repo.GetRunningTestForFlow(ctx, test.BaseFlowID)
	switch {
	case err == nil && running.ID != test.ID:
		return failure(outcome.Conflict, fmt.Sprintf("flow already has a running test: %s", running.ID))
	case err != nil && !errors.Is(err, ErrNotFound):
		return s.storageFailure(ctx, "check running tests", err)
	}

	return s.transition(ctx, test, StatusRunning)
}

// PauseTest stops traffic splitting while keeping the test resumable.
func (s *Service) PauseTest(ctx context.Context, testID string) Result {
	return s.transitionByID(ctx, testID, StatusPaused)
}

// StopTest completes a test without promoting any variant.
func (s *Service) StopTest(ctx context.Context, testID string) Result {
	return s.transitionByID(ctx, testID, StatusCompleted)
}

func (s *Service) transitionByID(ctx context.Context, testID string, to Status) Result {
	test, err := s.repo.GetTest(ctx, testID)
	if err != nil {
		return s.storageFailure(ctx, "load test", err)
	}
	return s.transition(ctx, test, to)
}

func (s *Service) transition(ctx context.Context, test *Test, to Status) Result {
	if !test.Status.CanTransition(to) {
		return failure(outcome.Conflict, fmt.Sprintf("cannot move test from %s to %s", test.Status, to))
	}

	if err := s.repo.UpdateTestStatus(ctx, test.ID, test.Status, to, s.now()); err != nil {
		if errors.Is(err, ErrConflict) {
			return failure(outcome.Conflict, "test status changed concurrently, retry")
		}
		return s.storageFailure(ctx, "update test status", err)
	}

	if to == StatusCompleted && s.cache != nil {
		if err := s.cache.DeleteResults(ctx, test.ID); err != nil {
			s.log(ctx).Warn("failed to drop cached results", slog.String("error", err.Error()))
		}
	}

	s.log(ctx).Info("test status changed",
		slog.String("test_id", test.ID),
		slog.String("from", string(test.Status)),
		slog.String("to", string(to)),
	)
	return Result{Success: true, TestID: test.ID}
}
