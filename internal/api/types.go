package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/leadflow/internal/experiment"
	"github.com/rafaeljc/leadflow/internal/logger"
	"github.com/rafaeljc/leadflow/internal/outcome"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
	"github.com/rafaeljc/leadflow/internal/validation"
)

// ErrorResponse represents a structured API error.
type ErrorResponse struct {
	// Code is machine-readable, e.g. "ERR_INVALID_INPUT".
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details lists field-level or rule-level failures.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail is one rejected field or one validation message.
type ErrorDetail struct {
	Field string `json:"field,omitempty"`
	Issue string `json:"issue"`
}

// EvaluateRequest is the body of POST /flows/{flowID}/evaluate.
type EvaluateRequest struct {
	SessionState ruleengine.State   `json:"sessionState"`
	Trigger      ruleengine.Trigger `json:"trigger"`
}

// InteractionRequest is the body of POST /tests/{testID}/interactions.
type InteractionRequest struct {
	VariantID string               `json:"variantId" validate:"required"`
	VisitorID string               `json:"visitorId" validate:"required,max=255"`
	Event     experiment.EventType `json:"event" validate:"required,oneof=view conversion"`
	Metadata  json.RawMessage      `json:"metadata,omitempty"`
}

// PublishFlowRequest is the body of POST /flows/{flowID}/versions.
type PublishFlowRequest struct {
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// PromoteRequest is the body of POST /tests/{testID}/promote.
type PromoteRequest struct {
	VariantID string `json:"variantId" validate:"required"`
}

// ListResponse wraps list endpoints.
type ListResponse struct {
	Data any `json:"data"`
}

var errorCodes = map[outcome.Kind]struct {
	status int
	code   string
}{
	outcome.Invalid:  {http.StatusBadRequest, "ERR_INVALID_INPUT"},
	outcome.NotFound: {http.StatusNotFound, "ERR_NOT_FOUND"},
	outcome.Conflict: {http.StatusConflict, "ERR_CONFLICT"},
	outcome.Internal: {http.StatusInternalServerError, "ERR_INTERNAL"},
}

// writeFailure maps a failed service envelope to its HTTP status.
func writeFailure(w http.ResponseWriter, r *http.Request, kind outcome.Kind, errs []string) {
	m, ok := errorCodes[kind]
	if !ok {
		m = errorCodes[outcome.Internal]
	}

	resp := ErrorResponse{Code: m.code, Message: "Request failed"}
	if len(errs) > 0 {
		resp.Message = errs[0]
	}
	for _, e := range errs {
		resp.Details = append(resp.Details, ErrorDetail{Issue: e})
	}
	writeError(w, r, m.status, resp)
}

// writeLookupError answers a failed read: 404 for a missing entity, 500
// otherwise.
func writeLookupError(w http.ResponseWriter, r *http.Request, what string, err error, notFound ...error) {
	for _, nf := range notFound {
		if errors.Is(err, nf) {
			writeError(w, r, http.StatusNotFound, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: what + " not found",
			})
			return
		}
	}

	logger.FromContext(r.Context()).Error("failed to load "+what, "error", err)
	writeError(w, r, http.StatusInternalServerError, ErrorResponse{
		Code:    "ERR_INTERNAL",
		Message: "Failed to load " + what,
	})
}

// decode reads the JSON body into dst and runs struct validation. It writes
// the error response and returns false when the body is unusable.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, ErrorResponse{
				Code:    "ERR_PAYLOAD_TOO_LARGE",
				Message: "Request body is too large",
			})
			return false
		}
		logger.FromContext(r.Context()).Warn("invalid json payload", "error", err)
		writeError(w, r, http.StatusBadRequest, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return false
	}

	if fieldErrs := validation.Struct(dst); len(fieldErrs) > 0 {
		resp := ErrorResponse{Code: "ERR_INVALID_INPUT", Message: "Request validation failed"}
		for _, fe := range fieldErrs {
			resp.Details = append(resp.Details, ErrorDetail{Field: fe.Field, Issue: fe.Issue})
		}
		writeError(w, r, http.StatusBadRequest, resp)
		return false
	}
	return true
}
