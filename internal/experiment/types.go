// Package experiment runs A/B tests on lead-capture flows: it assigns
// visitors to variants, records their interactions, computes results and
// promotes winning variants onto the base flow.
package experiment

import (
	"encoding/json"
	"time"

	"github.com/rafaeljc/leadflow/internal/outcome"
	"github.com/rafaeljc/leadflow/internal/stats"
)

// Status is the lifecycle state of a test.
//
//	draft -> running -> {completed, paused}
//	paused -> running | completed
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// allowedTransitions lists the legal status changes.
var allowedTransitions = map[Status][]Status{
	StatusDraft:   {StatusRunning, StatusCompleted},
	StatusRunning: {StatusPaused, StatusCompleted},
	StatusPaused:  {StatusRunning, StatusCompleted},
}

// CanTransition reports whether a test may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EventType is the kind of recorded interaction.
type EventType string

const (
	EventView       EventType = "view"
	EventConversion EventType = "conversion"
)

// IsValid reports whether e is a known interaction event.
func (e EventType) IsValid() bool {
	return e == EventView || e == EventConversion
}

// Test is an A/B test on a base flow.
type Test struct {
	ID          string `json:"id"`
	BaseFlowID  string `json:"baseFlowId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`

	// TrafficSplit is the percentage routed to the non-control variant.
	TrafficSplit    int    `json:"trafficSplit"`
	MinSampleSize   int64  `json:"minSampleSize"`
	ConfidenceLevel int    `json:"confidenceLevel"`
	SuccessMetric   string `json:"successMetric"`

	// Variants are kept in stored order; allocation walks them in this order.
	Variants []Variant `json:"variants"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// Control returns the control variant, if any.
func (t *Test) Control() (Variant, bool) {
	for _, v := range t.Variants {
		if v.IsControl {
			return v, true
		}
	}
	return Variant{}, false
}

// Variant returns the variant with the given id.
func (t *Test) Variant(id string) (Variant, bool) {
	for _, v := range t.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Settings returns the parameters used for the statistical analysis.
func (t *Test) Settings() stats.Settings {
	return stats.Settings{ConfidenceLevel: t.ConfidenceLevel, MinSampleSize: t.MinSampleSize}
}

// Variant is one arm of a test. The control variant serves the base flow;
// every other variant serves its own flow copy.
type Variant struct {
	ID                string `json:"id"`
	TestID            string `json:"testId"`
	Name              string `json:"name"`
	FlowID            string `json:"flowId"`
	IsControl         bool   `json:"isControl"`
	TrafficAllocation int    `json:"trafficAllocation"`
	Position          int    `json:"position"`

	// Payload is the flow configuration snapshot served to visitors of this variant.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Interaction is one append-only view or conversion event.
type Interaction struct {
	ID         string          `json:"id"`
	TestID     string          `json:"testId"`
	VariantID  string          `json:"variantId"`
	VisitorID  string          `json:"visitorId"`
	Event      EventType       `json:"event"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Assignment is the flow a visitor should see.
type Assignment struct {
	FlowID    string `json:"flowId"`
	IsVariant bool   `json:"isVariant"`
	TestID    string `json:"testId,omitempty"`
	VariantID string `json:"variantId,omitempty"`
}

// FlowVersion is one stored version of a flow configuration.
type FlowVersion struct {
	ID        string          `json:"id"`
	FlowID    string          `json:"flowId"`
	Version   int             `json:"version"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Flow version statuses.
const (
	FlowVersionPublished = "published"
	FlowVersionArchived  = "archived"
)

// Promotion is everything written atomically when a winner is promoted.
type Promotion struct {
	TestID     string
	VariantID  string
	BaseFlowID string
	Payload    json.RawMessage
	PromotedAt time.Time
}

// Result is the envelope returned by mutating operations.
type Result struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
	TestID  string   `json:"testId,omitempty"`
	Version int      `json:"version,omitempty"`

	// Kind classifies a failure. It is empty on success.
	Kind outcome.Kind `json:"-"`
}

func failure(kind outcome.Kind, errs ...string) Result {
	return Result{Success: false, Errors: errs, Kind: kind}
}
