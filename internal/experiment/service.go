package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rafaeljc/leadflow/internal/events"
	"github.com/rafaeljc/leadflow/internal/logger"
	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/outcome"
	"github.com/rafaeljc/leadflow/internal/stats"
	"github.com/rafaeljc/leadflow/internal/tracing"
)

var tracer = otel.Tracer("github.com/rafaeljc/leadflow/internal/experiment")

var (
	// ErrNotFound is returned by repositories when a test, variant or flow does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write races with another status change
	// or violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// Repository persists tests, interactions and flow versions.
type Repository interface {
	// CreateTest stores the test, its variants and a published flow version for
	// every non-control variant, in one transaction.
	CreateTest(ctx context.Context, t *Test) error
	GetTest(ctx context.Context, id string) (*Test, error)
	// GetRunningTestForFlow returns ErrNotFound when the flow has no running test.
	GetRunningTestForFlow(ctx context.Context, baseFlowID string) (*Test, error)
	ListTestsByStatus(ctx context.Context, status Status) ([]Test, error)
	// UpdateTestStatus moves a test from one status to another. It returns
	// ErrConflict when the stored status is no longer from.
	UpdateTestStatus(ctx context.Context, id string, from, to Status, at time.Time) error

	RecordInteraction(ctx context.Context, i *Interaction) error
	// CountInteractions returns per-variant view and conversion counts.
	CountInteractions(ctx context.Context, testID string) (map[string]Tally, error)
	SaveResults(ctx context.Context, r *stats.Results) error
	// GetSavedResults returns the last stored snapshot, or ErrNotFound.
	GetSavedResults(ctx context.Context, testID string) (*stats.Results, error)

	GetPublishedFlow(ctx context.Context, flowID string) (*FlowVersion, error)
	// PublishFlowVersion stores payload as the next published version of the
	// flow, archiving the current one, and returns the new version number.
	PublishFlowVersion(ctx context.Context, flowID string, payload json.RawMessage, at time.Time) (int, error)
	// PromoteWinner writes the promotion atomically and returns the new base flow version.
	PromoteWinner(ctx context.Context, p Promotion) (int, error)
}

// Tally is the raw interaction count of one variant.
type Tally struct {
	Views       int64
	Conversions int64
}

// ResultsCache stores computed results between recalculations.
type ResultsCache interface {
	GetResults(ctx context.Context, testID string) (*stats.Results, error)
	SetResults(ctx context.Context, r *stats.Results) error
	DeleteResults(ctx context.Context, testID string) error
}

// Service runs the experiment lifecycle.
type Service struct {
	logger    *slog.Logger
	repo      Repository
	cache     ResultsCache
	publisher events.Publisher
	now       func() time.Time
}

// NewService creates the experiment service. cache and publisher are optional.
func NewService(logger *slog.Logger, repo Repository, cache ResultsCache, publisher events.Publisher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		panic("experiment: repository cannot be nil")
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		logger:    logger,
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// log returns the request-scoped logger when one was attached to ctx.
func (s *Service) log(ctx context.Context) *slog.Logger {
	if l := logger.FromContext(ctx); l != slog.Default() {
		return l
	}
	return s.logger
}

// GetTestFlow returns the flow a visitor should see for baseFlowID. Without a
// running test, or on any storage error, the base flow is returned unchanged.
func (s *Service) GetTestFlow(ctx context.Context, baseFlowID, visitorID string) Assignment {
	ctx, span := tracer.Start(ctx, "experiment.GetTestFlow")
	defer span.End()

	base := Assignment{FlowID: baseFlowID}

	test, err := s.repo.GetRunningTestForFlow(ctx, baseFlowID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			tracing.SetError(span, err)
			s.log(ctx).Error("failed to load running test, serving base flow",
				slog.String("flow_id", baseFlowID),
				slog.String("error", err.Error()),
			)
		}
		return base
	}

	variant, ok := Allocate(test.Variants, visitorID, test.ID)
	if !ok {
		s.log(ctx).Warn("traffic allocation does not cover visitor bucket, serving base flow",
			slog.String("test_id", test.ID),
		)
		return base
	}

	flowID := variant.FlowID
	if variant.IsControl || flowID == "" {
		flowID = baseFlowID
	}
	assignment := Assignment{
		FlowID:    flowID,
		IsVariant: !variant.IsControl,
		TestID:    test.ID,
		VariantID: variant.ID,
	}
	span.SetAttributes(
		attribute.String("test.id", test.ID),
		attribute.String("variant.id", variant.ID),
	)
	observability.AssignmentsTotal.WithLabelValues(fmt.Sprint(assignment.IsVariant)).Inc()

	if err := s.publisher.PublishAssignment(ctx, events.AssignmentEvent{
		TestID:     test.ID,
		VariantID:  variant.ID,
		VisitorID:  visitorID,
		FlowID:     flowID,
		IsVariant:  assignment.IsVariant,
		AssignedAt: s.now(),
	}); err != nil {
		s.log(ctx).Warn("failed to publish assignment event", slog.String("error", err.Error()))
	}

	return assignment
}

// RecordInteraction appends a view or conversion for a visitor of a running test.
func (s *Service) RecordInteraction(ctx context.Context, in Interaction) Result {
	ctx, span := tracer.Start(ctx, "experiment.RecordInteraction")
	defer span.End()

	var errs []string
	if !in.Event.IsValid() {
		errs = append(errs, fmt.Sprintf("unknown event %q", in.Event))
	}
	if strings.TrimSpace(in.VisitorID) == "" {
		errs = append(errs, "visitorId is required")
	}
	if len(errs) > 0 {
		return failure(outcome.Invalid, errs...)
	}

	test, err := s.repo.GetTest(ctx, in.TestID)
	if err != nil {
		return s.storageFailure(ctx, "load test", err)
	}
	if test.Status != StatusRunning {
		return failure(outcome.Conflict, fmt.Sprintf("test is %s, interactions are only accepted while running", test.Status))
	}
	if _, ok := test.Variant(in.VariantID); !ok {
		return failure(outcome.Invalid, "variant does not belong to test")
	}

	in.ID = uuid.NewString()
	if in.OccurredAt.IsZero() {
		in.OccurredAt = s.now()
	}
	if err := s.repo.RecordInteraction(ctx, &in); err != nil {
		tracing.SetError(span, err)
		return s.storageFailure(ctx, "record interaction", err)
	}

	observability.InteractionsTotal.WithLabelValues(string(in.Event)).Inc()
	return Result{Success: true, TestID: in.TestID}
}

// CalculateResults recomputes and stores the results of a test. It returns
// nil results, and no error, when the test has no interactions yet.
func (s *Service) CalculateResults(ctx context.Context, testID string) (*stats.Results, error) {
	ctx, span := tracer.Start(ctx, "experiment.CalculateResults")
	defer span.End()
	span.SetAttributes(attribute.String("test.id", testID))

	test, err := s.repo.GetTest(ctx, testID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, fmt.Errorf("failed to load test %s: %w", testID, err)
	}

	tallies, err := s.repo.CountInteractions(ctx, testID)
	if err != nil {
		tracing.SetError(span, err)
		return nil, fmt.Errorf("failed to count interactions for test %s: %w", testID, err)
	}

	counts := make([]stats.Counts, 0, len(test.Variants))
	for _, v := range test.Variants {
		t := tallies[v.ID]
		counts = append(counts, stats.Counts{
			VariantID:   v.ID,
			Name:        v.Name,
			IsControl:   v.IsControl,
			Views:       t.Views,
			Conversions: t.Conversions,
		})
	}

	results := stats.Calculate(test.ID, counts, test.Settings(), s.now())
	if results == nil {
		return nil, nil
	}

	if err := s.repo.SaveResults(ctx, results); err != nil {
		s.log(ctx).Warn("failed to persist results snapshot",
			slog.String("test_id", testID),
			slog.String("error", err.Error()),
		)
	}
	s.warmCache(ctx, results)

	return results, nil
}

// GetResults serves the Redis snapshot, then the stored snapshot, and
// recomputes only when neither exists.
func (s *Service) GetResults(ctx context.Context, testID string) (*stats.Results, error) {
	if s.cache != nil {
		cached, err := s.cache.GetResults(ctx, testID)
		if err != nil {
			s.log(ctx).Warn("results cache read failed", slog.String("error", err.Error()))
		} else if cached != nil {
			return cached, nil
		}
	}

	saved, err := s.repo.GetSavedResults(ctx, testID)
	switch {
	case err == nil:
		s.warmCache(ctx, saved)
		return saved, nil
	case !errors.Is(err, ErrNotFound):
		s.log(ctx).Warn("stored results read failed", slog.String("test_id", testID), slog.String("error", err.Error()))
	}
	return s.CalculateResults(ctx, testID)
}

func (s *Service) warmCache(ctx context.Context, r *stats.Results) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetResults(ctx, r); err != nil {
		s.log(ctx).Warn("failed to cache results",
			slog.String("test_id", r.TestID),
			slog.String("error", err.Error()),
		)
	}
}

// GetTest returns a test with its variants.
func (s *Service) GetTest(ctx context.Context, testID string) (*Test, error) {
	return s.repo.GetTest(ctx, testID)
}

// ListTests returns the tests in the given status.
func (s *Service) ListTests(ctx context.Context, status Status) ([]Test, error) {
	return s.repo.ListTestsByStatus(ctx, status)
}

// GetPublishedFlow returns the current published version of a flow.
func (s *Service) GetPublishedFlow(ctx context.Context, flowID string) (*FlowVersion, error) {
	return s.repo.GetPublishedFlow(ctx, flowID)
}

// PublishFlow stores a new published version of a flow configuration.
func (s *Service) PublishFlow(ctx context.Context, flowID string, payload json.RawMessage) Result {
	if strings.TrimSpace(flowID) == "" {
		return failure(outcome.Invalid, "flowId is required")
	}
	if !json.Valid(payload) {
		return failure(outcome.Invalid, "payload must be valid JSON")
	}

	version, err := s.repo.PublishFlowVersion(ctx, flowID, copyPayload(payload), s.now())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return failure(outcome.Conflict, "flow was published concurrently, retry")
		}
		return s.storageFailure(ctx, "publish flow", err)
	}

	s.log(ctx).Info("flow published", slog.String("flow_id", flowID), slog.Int("version", version))
	return Result{Success: true, Version: version}
}

func (s *Service) storageFailure(ctx context.Context, op string, err error) Result {
	if errors.Is(err, ErrNotFound) {
		return failure(outcome.NotFound, "test not found")
	}
	s.log(ctx).Error("experiment storage failure", slog.String("op", op), slog.String("error", err.Error()))
	return failure(outcome.Internal, fmt.Sprintf("failed to %s: %s", op, err))
}

// copyPayload returns an independent copy of a flow payload.
func copyPayload(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	out := make(json.RawMessage, len(p))
	copy(out, p)
	return out
}
