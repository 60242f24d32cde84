// Package api implements the REST API of leadflow: the runtime endpoints
// called by rendered flows and the management endpoints for rules,
// profiles, flow versions and A/B tests.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/leadflow/internal/experiment"
	"github.com/rafaeljc/leadflow/internal/logic"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
	"github.com/rafaeljc/leadflow/internal/stats"
)

// LogicService is the part of the logic service the API exposes.
type LogicService interface {
	ExecuteLogicRules(ctx context.Context, flowID string, state ruleengine.State, fired ruleengine.Trigger) ruleengine.ExecutionResult

	ListRules(ctx context.Context, flowID string) ([]ruleengine.LogicRule, error)
	GetRule(ctx context.Context, flowID, ruleID string) (*ruleengine.LogicRule, error)
	CreateRule(ctx context.Context, r ruleengine.LogicRule) logic.Result
	UpdateRule(ctx context.Context, r ruleengine.LogicRule) logic.Result
	DeleteRule(ctx context.Context, flowID, ruleID string) logic.Result
	GetRuleMetrics(ctx context.Context, flowID, ruleID string) (*logic.RuleMetrics, error)

	ListProfiles(ctx context.Context, flowID string) ([]ruleengine.PersonalizationProfile, error)
	CreateProfile(ctx context.Context, p ruleengine.PersonalizationProfile) logic.Result
	UpdateProfile(ctx context.Context, p ruleengine.PersonalizationProfile) logic.Result
	DeleteProfile(ctx context.Context, flowID, profileID string) logic.Result
}

// ExperimentService is the part of the experiment service the API exposes.
type ExperimentService interface {
	GetTestFlow(ctx context.Context, baseFlowID, visitorID string) experiment.Assignment
	RecordInteraction(ctx context.Context, in experiment.Interaction) experiment.Result

	CreateTest(ctx context.Context, req experiment.CreateTestRequest) experiment.Result
	GetTest(ctx context.Context, testID string) (*experiment.Test, error)
	ListTests(ctx context.Context, status experiment.Status) ([]experiment.Test, error)
	StartTest(ctx context.Context, testID string) experiment.Result
	PauseTest(ctx context.Context, testID string) experiment.Result
	StopTest(ctx context.Context, testID string) experiment.Result

	GetResults(ctx context.Context, testID string) (*stats.Results, error)
	CalculateResults(ctx context.Context, testID string) (*stats.Results, error)
	PromoteWinner(ctx context.Context, testID, winnerVariantID string) experiment.Result

	GetPublishedFlow(ctx context.Context, flowID string) (*experiment.FlowVersion, error)
	PublishFlow(ctx context.Context, flowID string, payload json.RawMessage) experiment.Result
}

// Options tune the HTTP layer.
type Options struct {
	// APIKeyHash is the hex SHA-256 of the management API key.
	APIKeyHash string

	// SkipAuth disables authentication of management routes (tests and
	// local development only).
	SkipAuth bool

	// MaxBodyBytes caps request bodies. Zero means 1MB.
	MaxBodyBytes int64
}

// API holds the router and the services behind it.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	rules       LogicService
	experiments ExperimentService
	opts        Options
}

// New creates an API with the routes registered.
//
// Panics if a service is nil, or if APIKeyHash is empty while
// authentication is enabled.
func New(rules LogicService, experiments ExperimentService, opts Options) *API {
	if rules == nil {
		panic("api: logic service cannot be nil")
	}
	if experiments == nil {
		panic("api: experiment service cannot be nil")
	}
	if !opts.SkipAuth && opts.APIKeyHash == "" {
		panic("api: APIKeyHash cannot be empty when authentication is enabled")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}

	a := &API{
		Router:      chi.NewRouter(),
		rules:       rules,
		experiments: experiments,
		opts:        opts,
	}
	a.configureRoutes()
	return a
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(Metrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(limitBody(a.opts.MaxBodyBytes))
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		// Runtime routes are called by the public flow renderer.
		r.Post("/flows/{flowID}/evaluate", a.handleEvaluate)
		r.Get("/flows/{flowID}/assignment", a.handleAssignment)
		r.Post("/tests/{testID}/interactions", a.handleRecordInteraction)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticateAPIKey)

			r.Get("/flows/{flowID}/rules", a.handleListRules)
			r.Post("/flows/{flowID}/rules", a.handleCreateRule)
			r.Get("/flows/{flowID}/rules/{ruleID}", a.handleGetRule)
			r.Put("/flows/{flowID}/rules/{ruleID}", a.handleUpdateRule)
			r.Delete("/flows/{flowID}/rules/{ruleID}", a.handleDeleteRule)
			r.Get("/flows/{flowID}/rules/{ruleID}/metrics", a.handleRuleMetrics)

			r.Get("/flows/{flowID}/profiles", a.handleListProfiles)
			r.Post("/flows/{flowID}/profiles", a.handleCreateProfile)
			r.Put("/flows/{flowID}/profiles/{profileID}", a.handleUpdateProfile)
			r.Delete("/flows/{flowID}/profiles/{profileID}", a.handleDeleteProfile)

			r.Get("/flows/{flowID}/versions/published", a.handleGetPublishedFlow)
			r.Post("/flows/{flowID}/versions", a.handlePublishFlow)

			r.Get("/tests", a.handleListTests)
			r.Post("/tests", a.handleCreateTest)
			r.Get("/tests/{testID}", a.handleGetTest)
			r.Post("/tests/{testID}/start", a.handleTransition(a.experiments.StartTest))
			r.Post("/tests/{testID}/pause", a.handleTransition(a.experiments.PauseTest))
			r.Post("/tests/{testID}/stop", a.handleTransition(a.experiments.StopTest))
			r.Get("/tests/{testID}/results", a.handleGetResults)
			r.Post("/tests/{testID}/results/recalculate", a.handleRecalculate)
			r.Post("/tests/{testID}/promote", a.handlePromote)
		})
	})
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
