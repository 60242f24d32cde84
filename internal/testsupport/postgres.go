// Package testsupport starts throwaway PostgreSQL and Redis containers for
// the integration suites and reads Prometheus series in tests.
package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rafaeljc/leadflow/internal/config"
	"github.com/rafaeljc/leadflow/internal/database"
)

const postgresImage = "postgres:16-alpine"

// leadflowTables lists every table the migrations create, children first.
var leadflowTables = []string{
	"ab_test_results",
	"ab_test_interactions",
	"ab_test_variants",
	"ab_tests",
	"logic_rule_metrics",
	"personalization_profiles",
	"logic_rules",
	"audit_log",
	"flow_versions",
}

// PostgresContainer is a migrated database plus a pool built by
// database.NewPostgresPool.
type PostgresContainer struct {
	Container        testcontainers.Container
	DB               *pgxpool.Pool
	ConnectionString string
}

// Terminate closes the pool and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	c.DB.Close()
	return c.Container.Terminate(ctx)
}

// Reset empties every leadflow table so a scenario can assert on whole-table queries.
func (c *PostgresContainer) Reset(ctx context.Context) error {
	_, err := c.DB.Exec(ctx, "TRUNCATE "+strings.Join(leadflowTables, ", ")+" RESTART IDENTITY CASCADE")
	return err
}

// StartPostgresContainer starts PostgreSQL and applies the numbered .sql files
// of migrationsDir as init scripts, in file name order.
func StartPostgresContainer(ctx context.Context, migrationsDir string) (*PostgresContainer, error) {
	scripts, err := migrationScripts(migrationsDir)
	if err != nil {
		return nil, err
	}

	ctr, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("leadflow_test"),
		postgres.WithUsername("leadflow"),
		postgres.WithPassword("leadflow"),
		postgres.WithInitScripts(scripts...),
		testcontainers.WithWaitStrategy(
			// The server restarts once after running the init scripts.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, &config.DatabaseConfig{
		URL:             dsn,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
		PingMaxRetries:  3,
		PingBackoff:     500 * time.Millisecond,
		ApplicationName: "leadflow-test",
	})
	if err != nil {
		_ = ctr.Terminate(ctx)
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	return &PostgresContainer{Container: ctr, DB: pool, ConnectionString: dsn}, nil
}

func migrationScripts(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
	}
	scripts, err := filepath.Glob(filepath.Join(abs, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(scripts) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", abs)
	}
	slices.Sort(scripts)
	return scripts, nil
}
