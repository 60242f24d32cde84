// Package database provides the PostgreSQL connection factory.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/leadflow/internal/config"
	"github.com/rafaeljc/leadflow/internal/logger"
	"github.com/rafaeljc/leadflow/internal/observability"
)

// NewPostgresPool creates a pgx pool from cfg and pings it, retrying with
// exponential backoff. The caller owns the returned pool.
func NewPostgresPool(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config cannot be nil")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.StatementTimeout > 0 {
		poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	maxRetries := max(cfg.PingMaxRetries, 1)
	backoff := cfg.PingBackoff
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, max(cfg.ConnectTimeout, time.Second))
		lastErr = pool.Ping(pingCtx)
		cancel()

		if lastErr == nil {
			log.Info("postgres ping successful", slog.Int("attempt", attempt))
			return pool, nil
		}

		log.Warn("postgres ping failed", slog.Int("attempt", attempt), slog.String("error", lastErr.Error()))
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	pool.Close()
	return nil, fmt.Errorf("failed to connect to postgres after %d retries: %w", maxRetries, lastErr)
}

// RunPoolMonitor samples pool statistics into Prometheus every interval
// until ctx is cancelled. Cumulative pgx counters are exported as deltas.
func RunPoolMonitor(ctx context.Context, pool *pgxpool.Pool, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastAcquire, lastWait int64
	var lastAcquireDuration time.Duration

	for {
		stat := pool.Stat()

		observability.DBPoolConnections.WithLabelValues("total").Set(float64(stat.TotalConns()))
		observability.DBPoolConnections.WithLabelValues("idle").Set(float64(stat.IdleConns()))
		observability.DBPoolConnections.WithLabelValues("in_use").Set(float64(stat.AcquiredConns()))
		observability.DBPoolConnections.WithLabelValues("max").Set(float64(stat.MaxConns()))

		if d := stat.AcquireCount() - lastAcquire; d > 0 {
			observability.DBPoolAcquireCount.Add(float64(d))
		}
		if d := stat.EmptyAcquireCount() - lastWait; d > 0 {
			observability.DBPoolWaitCount.Add(float64(d))
		}
		if d := stat.AcquireDuration() - lastAcquireDuration; d > 0 {
			observability.DBPoolAcquireDuration.Add(d.Seconds())
		}
		lastAcquire, lastWait, lastAcquireDuration = stat.AcquireCount(), stat.EmptyAcquireCount(), stat.AcquireDuration()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
