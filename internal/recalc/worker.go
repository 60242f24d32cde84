// Package recalc implements the background worker that refreshes the results
// snapshot of every running A/B test on a cron schedule.
package recalc

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rafaeljc/leadflow/internal/config"
	"github.com/rafaeljc/leadflow/internal/experiment"
	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/stats"
)

// Calculator is the part of the experiment service the worker drives.
type Calculator interface {
	ListTests(ctx context.Context, status experiment.Status) ([]experiment.Test, error)
	CalculateResults(ctx context.Context, testID string) (*stats.Results, error)
}

// Summary counts the outcomes of one sweep.
type Summary struct {
	Updated int
	Empty   int
	Failed  int
}

// Worker recalculates results of running tests.
type Worker struct {
	logger *slog.Logger
	config config.RecalcConfig
	calc   Calculator
}

// New creates a recalc worker.
func New(logger *slog.Logger, cfg config.RecalcConfig, calc Calculator) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if calc == nil {
		panic("recalc: calculator cannot be nil")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = 30 * time.Second
	}
	return &Worker{logger: logger, config: cfg, calc: calc}
}

// Run sweeps once immediately and then on every scheduled tick. It blocks
// until ctx is cancelled and waits for an in-flight sweep to finish.
func (w *Worker) Run(ctx context.Context) error {
	cronLog := slogCronLogger{logger: w.logger}
	c := cron.New(cron.WithLogger(cronLog), cron.WithChain(
		cron.SkipIfStillRunning(cronLog),
		cron.Recover(cronLog),
	))

	if _, err := c.AddFunc(w.config.Schedule, func() { w.Sweep(ctx) }); err != nil {
		return err
	}

	w.logger.Info("starting recalc worker", slog.String("schedule", w.config.Schedule))
	w.Sweep(ctx)

	c.Start()
	<-ctx.Done()

	w.logger.Info("recalc worker stopping...")
	<-c.Stop().Done()
	return nil
}

// Sweep recalculates every running test once. A failing test is logged and
// does not stop the others.
func (w *Worker) Sweep(ctx context.Context) Summary {
	if ctx.Err() != nil {
		return Summary{}
	}

	start := time.Now()
	defer func() { observability.RecalcDuration.Observe(time.Since(start).Seconds()) }()

	tests, err := w.calc.ListTests(ctx, experiment.StatusRunning)
	if err != nil {
		w.logger.Error("failed to list running tests", slog.String("error", err.Error()))
		return Summary{}
	}

	var updated, empty, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(w.config.Concurrency)

	for _, t := range tests {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, w.config.TestTimeout)
			defer cancel()

			res, err := w.calc.CalculateResults(tctx, t.ID)
			switch {
			case err != nil:
				failed.Add(1)
				observability.RecalcTestsTotal.WithLabelValues("fail").Inc()
				w.logger.Warn("failed to recalculate test",
					slog.String("test_id", t.ID),
					slog.String("error", err.Error()),
				)
			case res == nil:
				empty.Add(1)
				observability.RecalcTestsTotal.WithLabelValues("empty").Inc()
			default:
				updated.Add(1)
				observability.RecalcTestsTotal.WithLabelValues("success").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Updated: int(updated.Load()), Empty: int(empty.Load()), Failed: int(failed.Load())}
	if len(tests) > 0 {
		w.logger.Info("recalc sweep completed",
			slog.Int("updated", sum.Updated),
			slog.Int("empty", sum.Empty),
			slog.Int("failed", sum.Failed),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return sum
}

// slogCronLogger adapts slog to cron.Logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
