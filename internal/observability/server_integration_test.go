//go:build integration

package observability_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/leadflow/internal/cache"
	"github.com/rafaeljc/leadflow/internal/database"
	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/testsupport"
)

func TestObservabilityServer_Integration(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := testsupport.StartPostgresContainer(ctx, "../../migrations")
	require.NoError(t, err)
	defer func() { _ = pgContainer.Terminate(ctx) }()

	redisContainer, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer func() { _ = redisContainer.Terminate(ctx) }()

	port, err := freePort()
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Port = fmt.Sprintf("%d", port)
	cfg.Timeout = time.Second

	server := observability.NewServer(quiet(), cfg,
		database.ReadinessCheck(pgContainer.DB),
		cache.ReadinessCheck(redisContainer.Client),
	)
	server.Start()
	defer func() { _ = server.Shutdown(ctx) }()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + cfg.LivenessPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond, "server failed to start")

	readiness := func(t *testing.T) (int, observability.ReadinessReport) {
		t.Helper()
		resp, err := http.Get(baseURL + cfg.ReadinessPath)
		require.NoError(t, err)
		defer resp.Body.Close()

		var report observability.ReadinessReport
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
		return resp.StatusCode, report
	}

	t.Run("Should be ready when postgres and redis are up", func(t *testing.T) {
		code, report := readiness(t)

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "up", report.Components["postgres"].Status)
		assert.Equal(t, "up", report.Components["redis"].Status)
	})

	t.Run("Should turn unavailable when redis stops", func(t *testing.T) {
		require.NoError(t, redisContainer.Container.Stop(ctx, nil))

		require.Eventually(t, func() bool {
			code, report := readiness(t)
			return code == http.StatusServiceUnavailable && report.Components["redis"].Status == "down"
		}, 5*time.Second, 200*time.Millisecond)
	})
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
