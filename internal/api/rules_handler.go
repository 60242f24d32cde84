package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/rafaeljc/leadflow/internal/logger"
	"github.com/rafaeljc/leadflow/internal/logic"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
)

// handleEvaluate runs the flow's rules against the posted session state.
// Rule failures are reported inside the result; the status stays 200.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Trigger.Event.IsValid() {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Unknown trigger event",
			Details: []ErrorDetail{{Field: "trigger.event", Issue: "is not a known event"}},
		})
		return
	}
	if req.SessionState == nil {
		req.SessionState = ruleengine.State{}
	}

	flowID := chi.URLParam(r, "flowID")
	result := a.rules.ExecuteLogicRules(r.Context(), flowID, req.SessionState, req.Trigger)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.rules.ListRules(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		writeLookupError(w, r, "rules", err)
		return
	}
	if rules == nil {
		rules = []ruleengine.LogicRule{}
	}
	render.JSON(w, r, ListResponse{Data: rules})
}

func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.rules.GetRule(r.Context(), chi.URLParam(r, "flowID"), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeLookupError(w, r, "rule", err, logic.ErrNotFound)
		return
	}
	render.JSON(w, r, rule)
}

// handleCreateRule stores a rule under the flow in the path. Any id in the
// body is ignored.
func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule ruleengine.LogicRule
	if !decode(w, r, &rule) {
		return
	}
	rule.FlowID = chi.URLParam(r, "flowID")

	res := a.rules.CreateRule(r.Context(), rule)
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}

	logger.FromContext(r.Context()).Info("rule created", slog.String("rule_id", res.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule ruleengine.LogicRule
	if !decode(w, r, &rule) {
		return
	}
	rule.FlowID = chi.URLParam(r, "flowID")
	rule.ID = chi.URLParam(r, "ruleID")

	res := a.rules.UpdateRule(r.Context(), rule)
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}
	render.JSON(w, r, res)
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	res := a.rules.DeleteRule(r.Context(), chi.URLParam(r, "flowID"), chi.URLParam(r, "ruleID"))
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRuleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.rules.GetRuleMetrics(r.Context(), chi.URLParam(r, "flowID"), chi.URLParam(r, "ruleID"))
	if err != nil {
		writeLookupError(w, r, "rule", err, logic.ErrNotFound)
		return
	}
	render.JSON(w, r, m)
}

func (a *API) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := a.rules.ListProfiles(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		writeLookupError(w, r, "profiles", err)
		return
	}
	if profiles == nil {
		profiles = []ruleengine.PersonalizationProfile{}
	}
	render.JSON(w, r, ListResponse{Data: profiles})
}

func (a *API) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var p ruleengine.PersonalizationProfile
	if !decode(w, r, &p) {
		return
	}
	p.FlowID = chi.URLParam(r, "flowID")

	res := a.rules.CreateProfile(r.Context(), p)
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var p ruleengine.PersonalizationProfile
	if !decode(w, r, &p) {
		return
	}
	p.FlowID = chi.URLParam(r, "flowID")
	p.ID = chi.URLParam(r, "profileID")

	res := a.rules.UpdateProfile(r.Context(), p)
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}
	render.JSON(w, r, res)
}

func (a *API) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	res := a.rules.DeleteProfile(r.Context(), chi.URLParam(r, "flowID"), chi.URLParam(r, "profileID"))
	if !res.Success {
		writeFailure(w, r, res.Kind, res.Errors)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
