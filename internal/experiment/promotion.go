package experiment

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rafaeljc/leadflow/internal/events"
	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/outcome"
	"github.com/rafaeljc/leadflow/internal/tracing"
)

// PromoteWinner copies the winning variant's flow onto the base flow as a new
// published version, archives the previous published versions and completes
// the test. All writes happen in one transaction; nothing changes on failure.
func (s *Service) PromoteWinner(ctx context.Context, testID, winnerVariantID string) Result {
	ctx, span := tracer.Start(ctx, "experiment.PromoteWinner")
	defer span.End()
	span.SetAttributes(
		attribute.String("test.id", testID),
		attribute.String("variant.id", winnerVariantID),
	)

	res := s.promote(ctx, testID, winnerVariantID)
	status := "success"
	if !res.Success {
		status = "failure"
	}
	observability.PromotionsTotal.WithLabelValues(status).Inc()
	return res
}

func (s *Service) promote(ctx context.Context, testID, winnerVariantID string) Result {
	test, err := s.repo.GetTest(ctx, testID)
	if err != nil {
		return s.storageFailure(ctx, "load test", err)
	}
	if test.Status == StatusCompleted {
		return failure(outcome.Conflict, "test is already completed")
	}

	winner, ok := test.Variant(winnerVariantID)
	if !ok {
		return failure(outcome.Invalid, "winner variant not found")
	}

	payload := winner.Payload
	if !winner.IsControl && winner.FlowID != "" {
		flow, err := s.repo.GetPublishedFlow(ctx, winner.FlowID)
		switch {
		case err == nil:
			payload = flow.Payload
		case !errors.Is(err, ErrNotFound):
			return s.storageFailure(ctx, "load winner flow", err)
		}
	}
	if len(payload) == 0 {
		return failure(outcome.Invalid, "winner variant has no flow payload")
	}

	promotedAt := s.now()
	version, err := s.repo.PromoteWinner(ctx, Promotion{
		TestID:     test.ID,
		VariantID:  winner.ID,
		BaseFlowID: test.BaseFlowID,
		Payload:    copyPayload(payload),
		PromotedAt: promotedAt,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return failure(outcome.Conflict, "test status changed concurrently, retry")
		}
		return s.storageFailure(ctx, "promote winner", err)
	}

	if s.cache != nil {
		if err := s.cache.DeleteResults(ctx, test.ID); err != nil {
			s.log(ctx).Warn("failed to drop cached results", slog.String("error", err.Error()))
		}
	}
	if err := s.publisher.PublishPromotion(ctx, events.PromotionEvent{
		TestID:     test.ID,
		VariantID:  winner.ID,
		BaseFlowID: test.BaseFlowID,
		Version:    version,
		PromotedAt: promotedAt,
	}); err != nil {
		tracing.SetError(trace.SpanFromContext(ctx), err)
		s.log(ctx).Warn("failed to publish promotion event", slog.String("error", err.Error()))
	}

	s.log(ctx).Info("winner promoted",
		slog.String("test_id", test.ID),
		slog.String("variant_id", winner.ID),
		slog.Int("version", version),
	)
	return Result{Success: true, TestID: test.ID, Version: version}
}
