package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/leadflow/internal/config"
	"github.com/rafaeljc/leadflow/internal/observability"
)

func testConfig() config.ObservabilityConfig {
	return config.ObservabilityConfig{
		Port:          "0",
		Timeout:       200 * time.Millisecond,
		LivenessPath:  "/alive",
		ReadinessPath: "/check-deps",
		MetricsPath:   "/telemetry",
	}
}

func up(name string) observability.Checker {
	return observability.CheckerFunc{Component: name, Fn: func(context.Context) error { return nil }}
}

func down(name string, err error) observability.Checker {
	return observability.CheckerFunc{Component: name, Fn: func(context.Context) error { return err }}
}

func get(t *testing.T, s *observability.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_Liveness(t *testing.T) {
	t.Parallel()
	s := observability.NewServer(quiet(), testConfig(), down("postgres", errors.New("refused")))

	rr := get(t, s, "/alive")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestServer_Readiness(t *testing.T) {
	t.Parallel()

	t.Run("Should report ready when every component is up", func(t *testing.T) {
		t.Parallel()
		s := observability.NewServer(quiet(), testConfig(), up("postgres"), up("redis"))

		rr := get(t, s, "/check-deps")

		require.Equal(t, http.StatusOK, rr.Code)
		var report observability.ReadinessReport
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
		assert.Equal(t, "ready", report.Status)
		assert.Equal(t, "up", report.Components["postgres"].Status)
		assert.Equal(t, "up", report.Components["redis"].Status)
	})

	t.Run("Should answer 503 and name the failing component", func(t *testing.T) {
		t.Parallel()
		s := observability.NewServer(quiet(), testConfig(), up("postgres"), down("redis", errors.New("connection refused")))

		rr := get(t, s, "/check-deps")

		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var report observability.ReadinessReport
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
		assert.Equal(t, "unavailable", report.Status)
		assert.Equal(t, "up", report.Components["postgres"].Status)
		assert.Equal(t, "down", report.Components["redis"].Status)
		assert.Equal(t, "connection refused", report.Components["redis"].Error)
	})

	t.Run("Should bound slow checkers by the configured timeout", func(t *testing.T) {
		t.Parallel()
		slow := observability.CheckerFunc{Component: "kafka", Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		s := observability.NewServer(quiet(), testConfig(), slow)

		start := time.Now()
		rr := get(t, s, "/check-deps")

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("Should be ready with no checkers", func(t *testing.T) {
		t.Parallel()
		s := observability.NewServer(quiet(), testConfig())

		assert.Equal(t, http.StatusOK, get(t, s, "/check-deps").Code)
	})
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	observability.RuleCacheHits.Inc()
	s := observability.NewServer(quiet(), testConfig())

	rr := get(t, s, "/telemetry")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
	assert.Contains(t, rr.Body.String(), "leadflow_")
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	t.Parallel()
	s := observability.NewServer(quiet(), testConfig())

	assert.NoError(t, s.Shutdown(context.Background()))
}
