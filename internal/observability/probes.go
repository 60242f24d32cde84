package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
)

// ComponentStatus is one dependency's line in the readiness report.
type ComponentStatus struct {
	Status    string  `json:"status"`
	LatencyMs float64 `json:"latencyMs"`
	Error     string  `json:"error,omitempty"`
}

// ReadinessReport is the readiness probe body.
type ReadinessReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker concurrently under the configured timeout and
// answers 503 when any of them fails.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	report := ReadinessReport{Status: "ready", Components: make(map[string]ComponentStatus, len(s.checkers))}
	var mu sync.Mutex

	// Checkers never return errors to the group so one failure does not
	// cancel the others.
	var g errgroup.Group
	for _, c := range s.checkers {
		g.Go(func() error {
			start := time.Now()
			err := c.Check(ctx)
			st := ComponentStatus{Status: "up", LatencyMs: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				st.Status = "down"
				st.Error = err.Error()
				s.logger.Warn("health probe failed",
					"component", c.Name(),
					"error", err.Error(),
				)
			}

			mu.Lock()
			report.Components[c.Name()] = st
			if err != nil {
				report.Status = "unavailable"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	if report.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	render.Status(r, code)
	render.JSON(w, r, report)
}
