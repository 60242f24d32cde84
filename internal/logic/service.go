// Package logic manages the logic rules and personalization profiles of a
// flow and executes them for the flow runtime.
package logic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rafaeljc/leadflow/internal/logger"
	"github.com/rafaeljc/leadflow/internal/observability"
	"github.com/rafaeljc/leadflow/internal/outcome"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
	"github.com/rafaeljc/leadflow/internal/tracing"
)

var tracer = otel.Tracer("github.com/rafaeljc/leadflow/internal/logic")

// dispatchTimeout bounds a server-side action including its retries.
const dispatchTimeout = 30 * time.Second

// ErrNotFound is returned by repositories when a rule or profile does not exist.
var ErrNotFound = errors.New("not found")

// Repository persists rules, profiles and per-rule execution metrics.
type Repository interface {
	ListRules(ctx context.Context, flowID string) ([]ruleengine.LogicRule, error)
	GetRule(ctx context.Context, flowID, ruleID string) (*ruleengine.LogicRule, error)
	CreateRule(ctx context.Context, r *ruleengine.LogicRule) error
	UpdateRule(ctx context.Context, r *ruleengine.LogicRule) error
	DeleteRule(ctx context.Context, flowID, ruleID string) error

	ListProfiles(ctx context.Context, flowID string) ([]ruleengine.PersonalizationProfile, error)
	CreateProfile(ctx context.Context, p *ruleengine.PersonalizationProfile) error
	UpdateProfile(ctx context.Context, p *ruleengine.PersonalizationProfile) error
	DeleteProfile(ctx context.Context, flowID, profileID string) error

	// RecordRuleMetric folds one execution into the rule's running counters.
	RecordRuleMetric(ctx context.Context, ruleID string, success bool, latency time.Duration) error
	GetRuleMetrics(ctx context.Context, ruleID string) (*RuleMetrics, error)
}

// RuleMetrics are the persisted execution counters of one rule.
type RuleMetrics struct {
	RuleID         string    `json:"ruleId"`
	Executions     int64     `json:"executions"`
	Successes      int64     `json:"successes"`
	Failures       int64     `json:"failures"`
	SuccessRate    float64   `json:"successRate"`
	AvgLatencyMs   float64   `json:"avgLatencyMs"`
	LastExecutedAt time.Time `json:"lastExecutedAt"`
}

// RuleSetCache holds compiled rule sets by flow id.
type RuleSetCache interface {
	Get(flowID string) (*ruleengine.RuleSet, bool)
	Set(flowID string, set *ruleengine.RuleSet)
	Del(flowID string)
}

// Invalidator tells other instances that a flow's rules changed.
type Invalidator interface {
	PublishInvalidation(ctx context.Context, flowID string) error
}

// ActionDispatcher performs server-side actions such as webhooks.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, flowID string, action ruleengine.Action, state ruleengine.State) error
}

// Result is the envelope returned by mutating operations.
type Result struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
	ID      string   `json:"id,omitempty"`

	// Kind classifies a failure. It is empty on success.
	Kind outcome.Kind `json:"-"`
}

func failure(kind outcome.Kind, errs ...string) Result {
	return Result{Success: false, Errors: errs, Kind: kind}
}

// Service executes and manages rules.
type Service struct {
	logger      *slog.Logger
	repo        Repository
	cache       RuleSetCache
	invalidator Invalidator
	dispatcher  ActionDispatcher
	engine      *ruleengine.Engine
	now         func() time.Time
}

// NewService creates the logic service. cache, invalidator and dispatcher are optional.
func NewService(logger *slog.Logger, repo Repository, cache RuleSetCache, invalidator Invalidator, dispatcher ActionDispatcher) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		panic("logic: repository cannot be nil")
	}

	s := &Service{
		logger:      logger,
		repo:        repo,
		cache:       cache,
		invalidator: invalidator,
		dispatcher:  dispatcher,
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.engine = ruleengine.New(logger, newMetricsRecorder(logger, repo, maxPendingMetricWrites))
	return s
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if l := logger.FromContext(ctx); l != slog.Default() {
		return l
	}
	return s.logger
}

// ExecuteLogicRules runs the flow's enabled rules for a fired trigger and
// returns the resulting actions and personalizations. It never fails: a
// storage error yields an empty result with the error in Errors.
func (s *Service) ExecuteLogicRules(ctx context.Context, flowID string, state ruleengine.State, fired ruleengine.Trigger) ruleengine.ExecutionResult {
	ctx, span := tracer.Start(ctx, "logic.ExecuteLogicRules")
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.FlowIDKey, flowID),
		attribute.String(tracing.TriggerKey, string(fired.Event)),
	)

	start := time.Now()
	defer func() { observability.RuleSetEvaluationDuration.Observe(time.Since(start).Seconds()) }()

	set, err := s.ruleSet(ctx, flowID)
	if err != nil {
		tracing.SetError(span, err)
		s.log(ctx).Error("failed to load rules",
			slog.String("flow_id", flowID),
			slog.String("error", err.Error()),
		)
		return ruleengine.ExecutionResult{
			Actions:          []ruleengine.Action{},
			Personalizations: []ruleengine.Personalization{},
			Errors:           []string{fmt.Sprintf("failed to load rules: %s", err)},
		}
	}

	res := s.engine.Execute(set, state, fired)
	if len(res.Errors) > 0 {
		observability.RuleEvaluationErrors.Add(float64(len(res.Errors)))
	}
	span.SetAttributes(
		attribute.Int("leadflow.actions", len(res.Actions)),
		attribute.Int("leadflow.errors", len(res.Errors)),
	)
	s.dispatchServerActions(ctx, flowID, res.Actions, state)
	return res
}

// dispatchServerActions hands webhook actions to the dispatcher without
// waiting for delivery. The runtime still receives them in the result.
func (s *Service) dispatchServerActions(ctx context.Context, flowID string, actions []ruleengine.Action, state ruleengine.State) {
	if s.dispatcher == nil {
		return
	}
	log := s.log(ctx)
	for _, a := range actions {
		if a.Type != ruleengine.ActionCallWebhook {
			continue
		}
		go func(a ruleengine.Action) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
			defer cancel()
			if err := s.dispatcher.Dispatch(ctx, flowID, a, state); err != nil {
				log.Warn("webhook action failed", slog.String("flow_id", flowID), slog.String("error", err.Error()))
			}
		}(a)
	}
}

// ruleSet returns the compiled rules of a flow, from cache when possible.
func (s *Service) ruleSet(ctx context.Context, flowID string) (*ruleengine.RuleSet, error) {
	if s.cache != nil {
		if set, ok := s.cache.Get(flowID); ok {
			return set, nil
		}
	}

	rules, err := s.repo.ListRules(ctx, flowID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.repo.ListProfiles(ctx, flowID)
	if err != nil {
		return nil, err
	}

	set := ruleengine.Compile(flowID, rules, profiles)
	if broken := set.Broken(); len(broken) > 0 {
		s.log(ctx).Warn("flow has rules that cannot compile",
			slog.String("flow_id", flowID),
			slog.String("rules", strings.Join(broken, ", ")),
		)
	}
	if s.cache != nil {
		s.cache.Set(flowID, set)
	}
	return set, nil
}

// ListRules returns every rule of a flow, enabled or not, in priority order.
func (s *Service) ListRules(ctx context.Context, flowID string) ([]ruleengine.LogicRule, error) {
	return s.repo.ListRules(ctx, flowID)
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, flowID, ruleID string) (*ruleengine.LogicRule, error) {
	return s.repo.GetRule(ctx, flowID, ruleID)
}

// CreateRule validates and stores a rule.
func (s *Service) CreateRule(ctx context.Context, r ruleengine.LogicRule) Result {
	if errs := ruleengine.ValidateRule(r); len(errs) > 0 {
		return failure(outcome.Invalid, errs...)
	}

	now := s.now()
	r.ID = uuid.NewString()
	r.Name = strings.TrimSpace(r.Name)
	if r.Type == "" {
		r.Type = ruleengine.RuleTypeConditionalStep
	}
	r.CreatedAt, r.UpdatedAt = now, now

	if err := s.repo.CreateRule(ctx, &r); err != nil {
		return s.storageFailure(ctx, "create rule", err)
	}

	s.invalidate(ctx, r.FlowID)
	s.log(ctx).Info("rule created", slog.String("flow_id", r.FlowID), slog.String("rule_id", r.ID))
	return Result{Success: true, ID: r.ID}
}

// UpdateRule validates and replaces a rule.
func (s *Service) UpdateRule(ctx context.Context, r ruleengine.LogicRule) Result {
	if errs := ruleengine.ValidateRule(r); len(errs) > 0 {
		return failure(outcome.Invalid, errs...)
	}

	r.Name = strings.TrimSpace(r.Name)
	r.UpdatedAt = s.now()
	if err := s.repo.UpdateRule(ctx, &r); err != nil {
		return s.storageFailure(ctx, "update rule", err)
	}

	s.invalidate(ctx, r.FlowID)
	return Result{Success: true, ID: r.ID}
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, flowID, ruleID string) Result {
	if err := s.repo.DeleteRule(ctx, flowID, ruleID); err != nil {
		return s.storageFailure(ctx, "delete rule", err)
	}
	s.invalidate(ctx, flowID)
	return Result{Success: true, ID: ruleID}
}

// GetRuleMetrics returns the execution counters of a rule. A rule that never
// ran has zero counters.
func (s *Service) GetRuleMetrics(ctx context.Context, flowID, ruleID string) (*RuleMetrics, error) {
	if _, err := s.repo.GetRule(ctx, flowID, ruleID); err != nil {
		return nil, err
	}
	m, err := s.repo.GetRuleMetrics(ctx, ruleID)
	if errors.Is(err, ErrNotFound) {
		return &RuleMetrics{RuleID: ruleID}, nil
	}
	return m, err
}

// ListProfiles returns every personalization profile of a flow.
func (s *Service) ListProfiles(ctx context.Context, flowID string) ([]ruleengine.PersonalizationProfile, error) {
	return s.repo.ListProfiles(ctx, flowID)
}

// CreateProfile validates and stores a personalization profile.
func (s *Service) CreateProfile(ctx context.Context, p ruleengine.PersonalizationProfile) Result {
	if errs := ruleengine.ValidateProfile(p); len(errs) > 0 {
		return failure(outcome.Invalid, errs...)
	}

	now := s.now()
	p.ID = uuid.NewString()
	p.Name = strings.TrimSpace(p.Name)
	p.CreatedAt, p.UpdatedAt = now, now

	if err := s.repo.CreateProfile(ctx, &p); err != nil {
		return s.storageFailure(ctx, "create profile", err)
	}

	s.invalidate(ctx, p.FlowID)
	return Result{Success: true, ID: p.ID}
}

// UpdateProfile validates and replaces a personalization profile.
func (s *Service) UpdateProfile(ctx context.Context, p ruleengine.PersonalizationProfile) Result {
	if errs := ruleengine.ValidateProfile(p); len(errs) > 0 {
		return failure(outcome.Invalid, errs...)
	}

	p.Name = strings.TrimSpace(p.Name)
	p.UpdatedAt = s.now()
	if err := s.repo.UpdateProfile(ctx, &p); err != nil {
		return s.storageFailure(ctx, "update profile", err)
	}

	s.invalidate(ctx, p.FlowID)
	return Result{Success: true, ID: p.ID}
}

// DeleteProfile removes a personalization profile.
func (s *Service) DeleteProfile(ctx context.Context, flowID, profileID string) Result {
	if err := s.repo.DeleteProfile(ctx, flowID, profileID); err != nil {
		return s.storageFailure(ctx, "delete profile", err)
	}
	s.invalidate(ctx, flowID)
	return Result{Success: true, ID: profileID}
}

// InvalidateFlow drops the cached rule set of a flow. Called by the
// cross-instance invalidation listener.
func (s *Service) InvalidateFlow(flowID string) {
	if s.cache != nil {
		s.cache.Del(flowID)
	}
	observability.RuleCacheInvalidations.Inc()
}

// invalidate drops the local copy and tells the other instances.
func (s *Service) invalidate(ctx context.Context, flowID string) {
	if s.cache != nil {
		s.cache.Del(flowID)
	}
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.PublishInvalidation(ctx, flowID); err != nil {
		// Other instances converge when their L1 TTL expires.
		s.log(ctx).Warn("failed to publish rule invalidation",
			slog.String("flow_id", flowID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) storageFailure(ctx context.Context, op string, err error) Result {
	if errors.Is(err, ErrNotFound) {
		return failure(outcome.NotFound, "not found")
	}
	s.log(ctx).Error("logic storage failure", slog.String("op", op), slog.String("error", err.Error()))
	return failure(outcome.Internal, fmt.Sprintf("failed to %s: %s", op, err))
}
