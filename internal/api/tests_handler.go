package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/leadflow/internal/experiment"
	"github.com/rafaeljc/leadflow/internal/logger"
	"github.com/rafaeljc/leadflow/internal/stats"
)

// handleAssignment resolves which flow a visitor should see. It never fails
// for a known flow id; visitors outside a test get the base flow.
func (a *API) handleAssignment(w http.ResponseWriter, r *http.Request) {
	visitorID := strings.TrimSpace(r.URL.Query().Get("visitorId"))
	if visitorID == "" {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "visitorId is required",
		})
		return
	}

	assignment := a.experiments.GetTestFlow(r.Context(), chi.URLParam(r, "flowID"), visitorID)
	render.JSON(w, r, assignment)
}

func (a *API) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if !decode(w, r, &req) {
		return
	}

	res := a.experiments.RecordInteraction(r.Context(), experiment.Interaction{
		TestID:    chi.URLParam(r, "testID"),
		VariantID: req.VariantID,
		VisitorID: req.VisitorID,
		Event:     req.Event,
		Metadata:  req.Metadata,
	})
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, res)
}

func (a *API) handleGetPublishedFlow(w http.ResponseWriter, r *http.Request) {
	fv, err := a.experiments.GetPublishedFlow(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		writeLookupError(w, r, "published flow", err, experiment.ErrNotFound)
		return
	}
	render.JSON(w, r, fv)
}

func (a *API) handlePublishFlow(w http.ResponseWriter, r *http.Request) {
	var req PublishFlowRequest
	if !decode(w, r, &req) {
		return
	}

	res := a.experiments.PublishFlow(r.Context(), chi.URLParam(r, "flowID"), req.Payload)
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

// handleListTests lists tests by status; running when the query omits it.
func (a *API) handleListTests(w http.ResponseWriter, r *http.Request) {
	status := experiment.Status(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = experiment.StatusRunning
	case experiment.StatusDraft, experiment.StatusRunning, experiment.StatusPaused, experiment.StatusCompleted:
	default:
		writeError(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: "status must be one of draft, running, paused, completed",
		})
		return
	}

	tests, err := a.experiments.ListTests(r.Context(), status)
	if err != nil {
		writeLookupError(w, r, "tests", err)
		return
	}
	if tests == nil {
		tests = []experiment.Test{}
	}
	render.JSON(w, r, ListResponse{Data: tests})
}

func (a *API) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req experiment.CreateTestRequest
	if !decode(w, r, &req) {
		return
	}

	res := a.experiments.CreateTest(r.Context(), req)
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}

	logger.FromContext(r.Context()).Info("test created", slog.String("test_id", res.TestID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

func (a *API) handleGetTest(w http.ResponseWriter, r *http.Request) {
	test, err := a.experiments.GetTest(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		writeLookupError(w, r, "test", err, experiment.ErrNotFound)
		return
	}
	render.JSON(w, r, test)
}

// handleTransition adapts a lifecycle operation (start, pause, stop) to a handler.
func (a *API) handleTransition(op func(ctx context.Context, testID string) experiment.Result) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := op(r.Context(), chi.URLParam(r, "testID"))
		if !res.Success {
			writeFailure(w, r, res.Kind, res.Errors)
			return
		}
		render.JSON(w, r, res)
	}
}

func (a *API) handleGetResults(w http.ResponseWriter, r *http.Request) {
	a.writeResults(w, r, a.experiments.GetResults)
}

func (a *API) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	a.writeResults(w, r, a.experiments.CalculateResults)
}

func (a *API) writeResults(w http.ResponseWriter, r *http.Request, load func(context.Context, string) (*stats.Results, error)) {
	testID := chi.URLParam(r, "testID")
	results, err := load(r.Context(), testID)
	if err != nil {
		writeLookupError(w, r, "test", err, experiment.ErrNotFound)
		return
	}
	if results == nil {
		writeError(w, r, http.StatusNotFound, ErrorResponse{
			Code:    "ERR_NO_RESULTS",
			Message: "No interactions recorded for this test yet",
		})
		return
	}
	render.JSON(w, r, results)
}

func (a *API) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req PromoteRequest
	if !decode(w, r, &req) {
		return
	}

	res := a.experiments.PromoteWinner(r.Context(), chi.URLParam(r, "testID"), req.VariantID)
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}

	logger.FromContext(r.Context()).Info("winner promoted",
		slog.String("test_id", res.TestID),
		slog.String("variant_id", req.VariantID),
	)
	render.JSON(w, r, res)
}
