// Package events publishes experiment domain events to Kafka.
// Publishing is best effort: callers log failures and carry on.
package events

import (
	"context"
	"time"
)

// AssignmentEvent records which flow a visitor was routed to.
type AssignmentEvent struct {
	TestID     string    `json:"test_id"`
	VariantID  string    `json:"variant_id"`
	VisitorID  string    `json:"visitor_id"`
	FlowID     string    `json:"flow_id"`
	IsVariant  bool      `json:"is_variant"`
	AssignedAt time.Time `json:"assigned_at"`
}

// PromotionEvent records a winner being promoted onto its base flow.
type PromotionEvent struct {
	TestID     string    `json:"test_id"`
	VariantID  string    `json:"variant_id"`
	BaseFlowID string    `json:"base_flow_id"`
	Version    int       `json:"version"`
	PromotedAt time.Time `json:"promoted_at"`
}

// Publisher emits domain events.
type Publisher interface {
	PublishAssignment(ctx context.Context, e AssignmentEvent) error
	PublishPromotion(ctx context.Context, e PromotionEvent) error
	Close() error
}

// NopPublisher discards every event. Used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishAssignment(context.Context, AssignmentEvent) error { return nil }
func (NopPublisher) PublishPromotion(context.Context, PromotionEvent) error   { return nil }
func (NopPublisher) Close() error                                             { return nil }
