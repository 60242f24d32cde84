package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rafaeljc/leadflow/internal/observability"
)

var _ Publisher = (*KafkaPublisher)(nil)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON, keyed by test id so that every event
// of a test lands on the same partition.
type KafkaPublisher struct {
	assignments messageWriter
	promotions  messageWriter
}

// KafkaConfig configures the publisher.
type KafkaConfig struct {
	Brokers          []string
	AssignmentsTopic string
	PromotionsTopic  string
	WriteTimeout     time.Duration
	// Async makes writes fire-and-forget. Assignment events use it to stay
	// off the request path.
	Async bool
}

// NewKafkaPublisher creates writers for both topics.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("events: at least one kafka broker is required")
	}
	if cfg.AssignmentsTopic == "" || cfg.PromotionsTopic == "" {
		return nil, errors.New("events: assignment and promotion topics are required")
	}

	newWriter := func(topic string, async bool) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			Async:        async,
		}
	}

	return &KafkaPublisher{
		assignments: newWriter(cfg.AssignmentsTopic, cfg.Async),
		// Promotions are rare and must not be lost silently.
		promotions: newWriter(cfg.PromotionsTopic, false),
	}, nil
}

func newKafkaPublisherWithWriters(assignments, promotions messageWriter) *KafkaPublisher {
	return &KafkaPublisher{assignments: assignments, promotions: promotions}
}

// PublishAssignment emits an assignment event.
func (p *KafkaPublisher) PublishAssignment(ctx context.Context, e AssignmentEvent) error {
	return p.publish(ctx, p.assignments, "assignments", e.TestID, e)
}

// PublishPromotion emits a promotion event.
func (p *KafkaPublisher) PublishPromotion(ctx context.Context, e PromotionEvent) error {
	return p.publish(ctx, p.promotions, "promotions", e.TestID, e)
}

func (p *KafkaPublisher) publish(ctx context.Context, w messageWriter, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		observability.EventsPublishedTotal.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	observability.EventsPublishedTotal.WithLabelValues(topic, "success").Inc()
	return nil
}

// Close flushes and closes both writers.
func (p *KafkaPublisher) Close() error {
	return errors.Join(p.assignments.Close(), p.promotions.Close())
}
