package logic

import (
	"context"
	"log/slog"
	"time"

	"github.com/rafaeljc/leadflow/internal/observability"
)

const (
	// persistTimeout bounds the background write of one rule metric.
	persistTimeout = 2 * time.Second

	// maxPendingMetricWrites caps concurrent rule metric writes so they never
	// take more than a few pool connections away from rule loading.
	maxPendingMetricWrites = 4
)

// metricsRecorder feeds rule outcomes to Prometheus and, best effort, to the
// logic_rule_metrics table. Persistence runs in the background so a slow
// database never delays rule execution; once the write limit is reached,
// further rows are dropped and counted.
type metricsRecorder struct {
	logger *slog.Logger
	repo   Repository
	slots  chan struct{}
}

func newMetricsRecorder(logger *slog.Logger, repo Repository, limit int) *metricsRecorder {
	return &metricsRecorder{logger: logger, repo: repo, slots: make(chan struct{}, limit)}
}

func (m *metricsRecorder) RecordRuleExecution(ruleID string, success bool, latency time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	observability.RuleExecutionsTotal.WithLabelValues(result).Inc()
	observability.RuleExecutionDuration.Observe(latency.Seconds())

	select {
	case m.slots <- struct{}{}:
	default:
		observability.RuleMetricWritesDropped.Inc()
		return
	}

	go func() {
		defer func() { <-m.slots }()

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.repo.RecordRuleMetric(ctx, ruleID, success, latency); err != nil {
			m.logger.Warn("failed to persist rule metric",
				slog.String("rule_id", ruleID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
