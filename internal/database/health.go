package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafaeljc/leadflow/internal/observability"
)

// ReadinessCheck reports whether the store can serve queries. A pool that
// stays exhausted past the probe deadline counts as unavailable.
func ReadinessCheck(pool *pgxpool.Pool) observability.CheckerFunc {
	return observability.CheckerFunc{
		Component: "postgres",
		Fn: func(ctx context.Context) error {
			if pool == nil {
				return errors.New("database pool is nil")
			}
			var one int
			if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
				return fmt.Errorf("postgres query failed: %w", err)
			}
			return nil
		},
	}
}
