// Package main runs the leadflow API: rule evaluation, A/B assignment and
// the management endpoints, plus the results recalculation worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rafaeljc/leadflow/internal/api"
	"github.com/rafaeljc/leadflow/internal/cache"
	"github.com/rafaeljc/leadflow/internal/config"
	"github.com/rafaeljc/leadflow/internal/database"
	"github.com/rafaeljc/leadflow/internal/events"
	"github.com/rafaeljc/leadflow/internal/experiment"
	"github.com/rafaeljc/leadflow/internal/logger"
	"github.com/rafaeljc/leadflow/internal/logic"
	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/recalc"
	"github.com/rafaeljc/leadflow/internal/store"
	"github.com/rafaeljc/leadflow/internal/tracing"
	"github.com/rafaeljc/leadflow/internal/webhook"
)

const resultsKeyPrefix = "leadflow:results:"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// Tracing
	// -------------------------------------------------------------------------
	if cfg.Tracing.Enabled {
		tp, err := tracing.NewProvider(ctx, tracing.Config{
			ServiceName: cfg.App.Name,
			Endpoint:    cfg.Tracing.Endpoint,
			Insecure:    cfg.Tracing.Insecure,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	// -------------------------------------------------------------------------
	// Infrastructure
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	checkers := []observability.Checker{database.ReadinessCheck(pool)}

	ruleSets, err := cache.NewRuleSetCache(cfg.Cache.RulesCapacity, cfg.Cache.RulesTTL)
	if err != nil {
		return err
	}
	defer ruleSets.Close()

	var (
		invalidator *cache.Invalidator
		rulesInv    logic.Invalidator
		results     experiment.ResultsCache
	)
	if cfg.Redis.IsConfigured() {
		rdb, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		invalidator = cache.NewInvalidator(log, rdb, cfg.Cache.InvalidationChannel)
		rulesInv = invalidator
		results = cache.NewResultsCache(rdb, resultsKeyPrefix, cfg.Cache.ResultsTTL)
		checkers = append(checkers, cache.ReadinessCheck(rdb))
	} else {
		log.Warn("redis is not configured: results are not cached and rule invalidations stay local")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:          cfg.Kafka.Brokers,
			AssignmentsTopic: cfg.Kafka.AssignmentsTopic,
			PromotionsTopic:  cfg.Kafka.PromotionsTopic,
			WriteTimeout:     cfg.Kafka.WriteTimeout,
			Async:            cfg.Kafka.Async,
		})
		if err != nil {
			return err
		}
		publisher = kp
	}
	defer publisher.Close()

	var dispatcher logic.ActionDispatcher
	if cfg.Webhook.Enabled {
		dispatcher = webhook.NewDispatcher(log.With(slog.String("component", "webhook")), cfg.Webhook, nil)
	}

	// -------------------------------------------------------------------------
	// Wiring
	// -------------------------------------------------------------------------
	repo := store.NewPostgresStore(pool)
	rules := logic.NewService(log, repo, ruleSets, rulesInv, dispatcher)
	experiments := experiment.NewService(log, repo, results, publisher)

	handler := api.New(rules, experiments, api.Options{
		APIKeyHash:   cfg.Server.APIKeyHash,
		SkipAuth:     !cfg.Server.AuthEnabled() && cfg.App.Environment != config.EnvironmentProduction,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	obs := observability.NewServer(log, cfg.Observability, checkers...)
	obs.Start()

	// -------------------------------------------------------------------------
	// Run
	// -------------------------------------------------------------------------
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting api server", slog.String("addr", srv.Addr))
		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		database.RunPoolMonitor(gctx, pool, cfg.Cache.MetricsInterval)
		return nil
	})

	g.Go(func() error {
		ruleSets.RunMetricsCollector(gctx, cfg.Cache.MetricsInterval)
		return nil
	})

	if invalidator != nil {
		g.Go(func() error {
			return invalidator.Listen(gctx, rules.InvalidateFlow)
		})
	}

	if cfg.Recalc.Enabled {
		worker := recalc.New(log, cfg.Recalc, experiments)
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("api server shutdown failed", slog.String("error", err.Error()))
		}
		if err := obs.Shutdown(shutdownCtx); err != nil {
			log.Error("observability server shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("service exited successfully")
	return nil
}
