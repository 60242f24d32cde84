package api_test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/leadflow/internal/api"
	"github.com/rafaeljc/leadflow/internal/experiment"
	"github.com/rafaeljc/leadflow/internal/logic"
	"github.com/rafaeljc/leadflow/internal/outcome"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
	"github.com/rafaeljc/leadflow/internal/stats"
	"github.com/rafaeljc/leadflow/internal/testsupport"
)

const testAPIKey = "super-secret-key"

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}

func newTestAPI(t *testing.T, opts api.Options) (*api.API, *MockLogicService, *MockExperimentService) {
	t.Helper()
	rules := new(MockLogicService)
	exps := new(MockExperimentService)
	t.Cleanup(func() {
		rules.AssertExpectations(t)
		exps.AssertExpectations(t)
	})
	return api.New(rules, exps, opts), rules, exps
}

func serve(a *api.API, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("Should panic without a logic service", func(t *testing.T) {
		assert.PanicsWithValue(t, "api: logic service cannot be nil", func() {
			api.New(nil, new(MockExperimentService), api.Options{SkipAuth: true})
		})
	})

	t.Run("Should panic without an experiment service", func(t *testing.T) {
		assert.PanicsWithValue(t, "api: experiment service cannot be nil", func() {
			api.New(new(MockLogicService), nil, api.Options{SkipAuth: true})
		})
	})

	t.Run("Should panic when auth is enabled without a key hash", func(t *testing.T) {
		assert.PanicsWithValue(t, "api: APIKeyHash cannot be empty when authentication is enabled", func() {
			api.New(new(MockLogicService), new(MockExperimentService), api.Options{})
		})
	})
}

func TestAPI_Health(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

	rr := serve(a, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestAPI_Authentication(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		headers  []string
		wantCode int
	}{
		{name: "Should reject a request without a key", wantCode: http.StatusUnauthorized},
		{name: "Should reject a wrong key", headers: []string{"X-API-Key", "nope"}, wantCode: http.StatusUnauthorized},
		{name: "Should reject a malformed authorization header", headers: []string{"Authorization", "Basic " + testAPIKey}, wantCode: http.StatusUnauthorized},
		{name: "Should accept the key in X-API-Key", headers: []string{"X-API-Key", testAPIKey}, wantCode: http.StatusOK},
		{name: "Should accept a bearer token", headers: []string{"Authorization", "Bearer " + testAPIKey}, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, rules, _ := newTestAPI(t, api.Options{APIKeyHash: hashKey(testAPIKey)})
			if tt.wantCode == http.StatusOK {
				rules.On("ListRules", mock.Anything, "flow-1").Return([]ruleengine.LogicRule{}, nil)
			}

			rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/rules", "", tt.headers...)

			assert.Equal(t, tt.wantCode, rr.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.Equal(t, "ERR_UNAUTHORIZED", decodeError(t, rr).Code)
			}
		})
	}

	t.Run("Should leave runtime routes public", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{APIKeyHash: hashKey(testAPIKey)})
		exps.On("GetTestFlow", mock.Anything, "flow-1", "visitor-1").Return(experiment.Assignment{FlowID: "flow-1"})

		rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/assignment?visitorId=visitor-1", "")

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestAPI_Evaluate(t *testing.T) {
	t.Parallel()

	t.Run("Should pass state and trigger to the rule executor", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})

		want := ruleengine.ExecutionResult{
			Actions:          []ruleengine.Action{ruleengine.MustAction(ruleengine.ActionShowMessage, ruleengine.MessageConfig{Message: "hi"})},
			Personalizations: []ruleengine.Personalization{},
			Errors:           []string{},
		}
		rules.On("ExecuteLogicRules", mock.Anything, "flow-1",
			mock.MatchedBy(func(s ruleengine.State) bool {
				return s.Get("budget").StrictEqual(ruleengine.Number(5000)) &&
					s.Get("tags").StrictEqual(ruleengine.Strings("a", "b"))
			}),
			ruleengine.Trigger{Event: ruleengine.EventFieldChange, FieldID: "budget"},
		).Return(want)

		body := `{"sessionState":{"budget":5000,"tags":["a","b"]},"trigger":{"event":"field_change","fieldId":"budget"}}`
		rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/evaluate", body)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var got struct {
			Actions []struct {
				Type string `json:"type"`
			} `json:"actions"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		require.Len(t, got.Actions, 1)
		assert.Equal(t, "show_message", got.Actions[0].Type)
	})

	t.Run("Should default a missing session state to empty", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("ExecuteLogicRules", mock.Anything, "flow-1", ruleengine.State{}, ruleengine.Trigger{Event: ruleengine.EventFlowStart}).
			Return(ruleengine.ExecutionResult{})

		rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/evaluate", `{"trigger":{"event":"flow_start"}}`)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "Should reject malformed JSON", body: `{"sessionState":`, wantCode: "ERR_INVALID_JSON"},
		{name: "Should reject object values in the session state", body: `{"sessionState":{"a":{"b":1}},"trigger":{"event":"flow_start"}}`, wantCode: "ERR_INVALID_JSON"},
		{name: "Should reject an unknown trigger event", body: `{"trigger":{"event":"page_load"}}`, wantCode: "ERR_INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

			rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/evaluate", tt.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rr).Code)
		})
	}
}

func TestAPI_Rules(t *testing.T) {
	t.Parallel()

	ruleBody := `{
		"id": "ignored",
		"name": "Show budget tip",
		"trigger": {"event": "field_change", "fieldId": "budget"},
		"conditions": [{"field": "budget", "operator": "greater_than", "value": 1000}],
		"actions": [{"type": "show_message", "config": {"message": "Nice budget"}}],
		"priority": 1,
		"enabled": true
	}`

	t.Run("Should create a rule under the flow in the path", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("CreateRule", mock.Anything, mock.MatchedBy(func(r ruleengine.LogicRule) bool {
			return r.FlowID == "flow-1" && r.Name == "Show budget tip" && len(r.Actions) == 1
		})).Return(logic.Result{Success: true, ID: "rule-1"})

		rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/rules", ruleBody)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.JSONEq(t, `{"success":true,"id":"rule-1"}`, rr.Body.String())
	})

	t.Run("Should report validation errors as details", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("CreateRule", mock.Anything, mock.Anything).Return(logic.Result{
			Errors: []string{"name is required", "at least one action is required"},
			Kind:   outcome.Invalid,
		})

		rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/rules", ruleBody)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, "ERR_INVALID_INPUT", resp.Code)
		assert.Equal(t, "name is required", resp.Message)
		assert.Len(t, resp.Details, 2)
	})

	t.Run("Should reject an action with an unknown type", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

		rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/rules",
			`{"name":"x","actions":[{"type":"launch_rocket","config":{}}]}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Should take ids from the path on update", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("UpdateRule", mock.Anything, mock.MatchedBy(func(r ruleengine.LogicRule) bool {
			return r.FlowID == "flow-1" && r.ID == "rule-9"
		})).Return(logic.Result{Success: true, ID: "rule-9"})

		rr := serve(a, http.MethodPut, "/api/v1/flows/flow-1/rules/rule-9", ruleBody)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should return 404 for a missing rule", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("GetRule", mock.Anything, "flow-1", "nope").Return(nil, fmt.Errorf("lookup: %w", logic.ErrNotFound))

		rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/rules/nope", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "ERR_NOT_FOUND", decodeError(t, rr).Code)
	})

	t.Run("Should return 500 when listing fails", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("ListRules", mock.Anything, "flow-1").Return(nil, errors.New("db down"))

		rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/rules", "")

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("Should list an empty flow as an empty array", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("ListRules", mock.Anything, "flow-1").Return(nil, nil)

		rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/rules", "")

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"data":[]}`, rr.Body.String())
	})

	t.Run("Should delete a rule", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("DeleteRule", mock.Anything, "flow-1", "rule-1").Return(logic.Result{Success: true, ID: "rule-1"})

		rr := serve(a, http.MethodDelete, "/api/v1/flows/flow-1/rules/rule-1", "")

		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("Should map a missing rule on delete to 404", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("DeleteRule", mock.Anything, "flow-1", "rule-1").Return(logic.Result{
			Errors: []string{"rule not found"},
			Kind:   outcome.NotFound,
		})

		rr := serve(a, http.MethodDelete, "/api/v1/flows/flow-1/rules/rule-1", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Should return rule metrics", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("GetRuleMetrics", mock.Anything, "flow-1", "rule-1").Return(&logic.RuleMetrics{
			RuleID: "rule-1", Executions: 4, Successes: 3, Failures: 1, SuccessRate: 75,
		}, nil)

		rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/rules/rule-1/metrics", "")

		require.Equal(t, http.StatusOK, rr.Code)
		var got logic.RuleMetrics
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, int64(4), got.Executions)
		assert.InDelta(t, 75.0, got.SuccessRate, 1e-9)
	})
}

func TestAPI_Profiles(t *testing.T) {
	t.Parallel()

	body := `{
		"name": "Enterprise",
		"conditions": [{"field": "company_size", "operator": "greater_than", "value": 500}],
		"personalizations": [{"target": "intro.headline", "value": "Hello", "valueType": "text"}],
		"enabled": true
	}`

	t.Run("Should create a profile", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("CreateProfile", mock.Anything, mock.MatchedBy(func(p ruleengine.PersonalizationProfile) bool {
			return p.FlowID == "flow-1" && p.Name == "Enterprise"
		})).Return(logic.Result{Success: true, ID: "profile-1"})

		rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/profiles", body)

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("Should update a profile by path id", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("UpdateProfile", mock.Anything, mock.MatchedBy(func(p ruleengine.PersonalizationProfile) bool {
			return p.ID == "profile-1" && p.FlowID == "flow-1"
		})).Return(logic.Result{Success: true, ID: "profile-1"})

		rr := serve(a, http.MethodPut, "/api/v1/flows/flow-1/profiles/profile-1", body)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should list and delete profiles", func(t *testing.T) {
		t.Parallel()
		a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
		rules.On("ListProfiles", mock.Anything, "flow-1").Return([]ruleengine.PersonalizationProfile{{ID: "profile-1"}}, nil)
		rules.On("DeleteProfile", mock.Anything, "flow-1", "profile-1").Return(logic.Result{Success: true})

		assert.Equal(t, http.StatusOK, serve(a, http.MethodGet, "/api/v1/flows/flow-1/profiles", "").Code)
		assert.Equal(t, http.StatusNoContent, serve(a, http.MethodDelete, "/api/v1/flows/flow-1/profiles/profile-1", "").Code)
	})
}

func TestAPI_Assignment(t *testing.T) {
	t.Parallel()

	t.Run("Should require a visitor id", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

		rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/assignment", "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "ERR_INVALID_QUERY_PARAM", decodeError(t, rr).Code)
	})

	t.Run("Should return the assigned variant", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("GetTestFlow", mock.Anything, "flow-1", "visitor-1").Return(experiment.Assignment{
			FlowID: "flow-1-b", IsVariant: true, TestID: "test-1", VariantID: "var-b",
		})

		rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/assignment?visitorId=visitor-1", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"flowId":"flow-1-b","isVariant":true,"testId":"test-1","variantId":"var-b"}`, rr.Body.String())
	})
}

func TestAPI_Interactions(t *testing.T) {
	t.Parallel()

	t.Run("Should record a valid interaction", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("RecordInteraction", mock.Anything, mock.MatchedBy(func(in experiment.Interaction) bool {
			return in.TestID == "test-1" && in.VariantID == "var-a" && in.Event == experiment.EventConversion
		})).Return(experiment.Result{Success: true, TestID: "test-1"})

		rr := serve(a, http.MethodPost, "/api/v1/tests/test-1/interactions",
			`{"variantId":"var-a","visitorId":"visitor-1","event":"conversion"}`)

		assert.Equal(t, http.StatusAccepted, rr.Code)
	})

	t.Run("Should reject an unknown event with field details", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

		rr := serve(a, http.MethodPost, "/api/v1/tests/test-1/interactions",
			`{"variantId":"var-a","event":"click"}`)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, "ERR_INVALID_INPUT", resp.Code)
		assert.ElementsMatch(t, []api.ErrorDetail{
			{Field: "visitorId", Issue: "is required"},
			{Field: "event", Issue: "must be one of [view conversion]"},
		}, resp.Details)
	})

	t.Run("Should answer 409 when the test is not running", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("RecordInteraction", mock.Anything, mock.Anything).Return(experiment.Result{
			Errors: []string{"test is paused, interactions are only accepted while running"},
			Kind:   outcome.Conflict,
		})

		rr := serve(a, http.MethodPost, "/api/v1/tests/test-1/interactions",
			`{"variantId":"var-a","visitorId":"visitor-1","event":"view"}`)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestAPI_Tests(t *testing.T) {
	t.Parallel()

	t.Run("Should list running tests by default", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("ListTests", mock.Anything, experiment.StatusRunning).Return([]experiment.Test{{ID: "test-1"}}, nil)

		rr := serve(a, http.MethodGet, "/api/v1/tests", "")

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should reject an unknown status filter", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

		rr := serve(a, http.MethodGet, "/api/v1/tests?status=archived", "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Should create a test", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("CreateTest", mock.Anything, experiment.CreateTestRequest{
			BaseFlowID: "flow-1", Name: "Headline", TrafficSplit: 30, ConfidenceLevel: 99,
		}).Return(experiment.Result{Success: true, TestID: "test-1"})

		rr := serve(a, http.MethodPost, "/api/v1/tests",
			`{"baseFlowId":"flow-1","name":"Headline","trafficSplit":30,"confidenceLevel":99}`)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.JSONEq(t, `{"success":true,"testId":"test-1"}`, rr.Body.String())
	})

	t.Run("Should validate the create request before calling the service", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

		rr := serve(a, http.MethodPost, "/api/v1/tests",
			`{"baseFlowId":"flow-1","name":"Headline","trafficSplit":130,"confidenceLevel":80}`)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		fields := []string{}
		for _, d := range decodeError(t, rr).Details {
			fields = append(fields, d.Field)
		}
		assert.ElementsMatch(t, []string{"trafficSplit", "confidenceLevel"}, fields)
	})

	t.Run("Should return 404 for an unknown test", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("GetTest", mock.Anything, "nope").Return(nil, experiment.ErrNotFound)

		rr := serve(a, http.MethodGet, "/api/v1/tests/nope", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	lifecycle := []struct {
		path   string
		method string
		res    experiment.Result
		want   int
	}{
		{path: "start", method: "StartTest", res: experiment.Result{Success: true, TestID: "test-1"}, want: http.StatusOK},
		{path: "start", method: "StartTest", res: experiment.Result{Errors: []string{"flow already has a running test"}, Kind: outcome.Conflict}, want: http.StatusConflict},
		{path: "pause", method: "PauseTest", res: experiment.Result{Success: true, TestID: "test-1"}, want: http.StatusOK},
		{path: "stop", method: "StopTest", res: experiment.Result{Errors: []string{"test not found"}, Kind: outcome.NotFound}, want: http.StatusNotFound},
		{path: "stop", method: "StopTest", res: experiment.Result{Errors: []string{"failed to update"}, Kind: outcome.Internal}, want: http.StatusInternalServerError},
	}
	for _, tt := range lifecycle {
		t.Run(fmt.Sprintf("Should answer %d on %s", tt.want, tt.path), func(t *testing.T) {
			t.Parallel()
			a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
			exps.On(tt.method, mock.Anything, "test-1").Return(tt.res)

			rr := serve(a, http.MethodPost, "/api/v1/tests/test-1/"+tt.path, "")

			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestAPI_Results(t *testing.T) {
	t.Parallel()

	t.Run("Should return results", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("GetResults", mock.Anything, "test-1").Return(&stats.Results{
			TestID: "test-1", TotalViews: 200, TotalConversions: 30,
		}, nil)

		rr := serve(a, http.MethodGet, "/api/v1/tests/test-1/results", "")

		require.Equal(t, http.StatusOK, rr.Code)
		var got stats.Results
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, int64(200), got.TotalViews)
	})

	t.Run("Should answer 404 before any interaction", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("CalculateResults", mock.Anything, "test-1").Return(nil, nil)

		rr := serve(a, http.MethodPost, "/api/v1/tests/test-1/results/recalculate", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "ERR_NO_RESULTS", decodeError(t, rr).Code)
	})

	t.Run("Should answer 404 for an unknown test", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("GetResults", mock.Anything, "nope").Return(nil, fmt.Errorf("failed to load test nope: %w", experiment.ErrNotFound))

		rr := serve(a, http.MethodGet, "/api/v1/tests/nope/results", "")

		assert.Equal(t, "ERR_NOT_FOUND", decodeError(t, rr).Code)
	})
}

func TestAPI_FlowsAndPromotion(t *testing.T) {
	t.Parallel()

	t.Run("Should publish a flow version", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("PublishFlow", mock.Anything, "flow-1", json.RawMessage(`{"steps":[]}`)).
			Return(experiment.Result{Success: true, Version: 3})

		rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/versions", `{"payload":{"steps":[]}}`)

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.JSONEq(t, `{"success":true,"version":3}`, rr.Body.String())
	})

	t.Run("Should require a payload", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

		rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/versions", `{}`)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Should return 404 when the flow was never published", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("GetPublishedFlow", mock.Anything, "flow-1").Return(nil, experiment.ErrNotFound)

		rr := serve(a, http.MethodGet, "/api/v1/flows/flow-1/versions/published", "")

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Should promote the chosen variant", func(t *testing.T) {
		t.Parallel()
		a, _, exps := newTestAPI(t, api.Options{SkipAuth: true})
		exps.On("PromoteWinner", mock.Anything, "test-1", "var-b").
			Return(experiment.Result{Success: true, TestID: "test-1", Version: 4})

		rr := serve(a, http.MethodPost, "/api/v1/tests/test-1/promote", `{"variantId":"var-b"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Should require the winning variant id", func(t *testing.T) {
		t.Parallel()
		a, _, _ := newTestAPI(t, api.Options{SkipAuth: true})

		rr := serve(a, http.MethodPost, "/api/v1/tests/test-1/promote", `{}`)

		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, []api.ErrorDetail{{Field: "variantId", Issue: "is required"}}, decodeError(t, rr).Details)
	})
}

func TestAPI_BodyLimit(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAPI(t, api.Options{SkipAuth: true, MaxBodyBytes: 32})

	body := `{"payload":{"blob":"` + strings.Repeat("x", 256) + `"}}`
	rr := serve(a, http.MethodPost, "/api/v1/flows/flow-1/versions", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "ERR_PAYLOAD_TOO_LARGE", decodeError(t, rr).Code)
}

func TestAPI_Metrics(t *testing.T) {
	a, rules, _ := newTestAPI(t, api.Options{SkipAuth: true})
	rules.On("GetRule", mock.Anything, "flow-7", "rule-7").Return(nil, logic.ErrNotFound)

	t.Run("Should count requests by route pattern", func(t *testing.T) {
		labels := map[string]string{
			"method": "GET",
			"path":   "/api/v1/flows/{flowID}/rules/{ruleID}",
			"code":   "404",
		}
		testsupport.AssertMetricDelta(t, "leadflow_api_http_requests_total", labels, 1, func() {
			serve(a, http.MethodGet, "/api/v1/flows/flow-7/rules/rule-7", "")
		})
		testsupport.AssertHistogramRecorded(t, "leadflow_api_http_handling_seconds", map[string]string{
			"method": "GET",
			"path":   "/api/v1/flows/{flowID}/rules/{ruleID}",
		})
	})

	t.Run("Should label unknown routes as unmatched", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "path": "unmatched", "code": "404"}
		testsupport.AssertMetricDelta(t, "leadflow_api_http_requests_total", labels, 1, func() {
			serve(a, http.MethodGet, "/nowhere", "")
		})
	})
}
