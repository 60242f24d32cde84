package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/leadflow/internal/logic"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
)

const ruleColumns = `id, flow_id, name, description, type, trigger, conditions, actions, priority, enabled, created_at, updated_at`

// ListRules returns every rule of a flow ordered by ascending priority.
// Ties keep creation order.
func (s *PostgresStore) ListRules(ctx context.Context, flowID string) ([]ruleengine.LogicRule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM logic_rules
		WHERE flow_id = $1
		ORDER BY priority ASC, created_at ASC, id ASC`

	rows, err := s.db.Query(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := make([]ruleengine.LogicRule, 0)
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return rules, nil
}

// GetRule returns one rule of a flow.
func (s *PostgresStore) GetRule(ctx context.Context, flowID, ruleID string) (*ruleengine.LogicRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM logic_rules WHERE id = $1 AND flow_id = $2`

	r, err := scanRule(s.db.QueryRow(ctx, query, ruleID, flowID))
	if isNoRows(err) {
		return nil, logic.ErrNotFound
	}
	return r, err
}

// CreateRule inserts a rule. ID and timestamps are set by the caller.
func (s *PostgresStore) CreateRule(ctx context.Context, r *ruleengine.LogicRule) error {
	trigger, conditions, actions, err := marshalRule(r)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO logic_rules (id, flow_id, name, description, type, trigger, conditions, actions, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.Exec(ctx, query,
		r.ID, r.FlowID, r.Name, r.Description, string(r.Type),
		trigger, conditions, actions,
		r.Priority, r.Enabled, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return fmt.Errorf("rule %q already exists", r.ID)
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// UpdateRule replaces the mutable fields of a rule. The flow and creation
// time never change.
func (s *PostgresStore) UpdateRule(ctx context.Context, r *ruleengine.LogicRule) error {
	trigger, conditions, actions, err := marshalRule(r)
	if err != nil {
		return err
	}

	query := `
		UPDATE logic_rules
		SET name = $3, description = $4, type = $5, trigger = $6, conditions = $7,
		    actions = $8, priority = $9, enabled = $10, updated_at = $11
		WHERE id = $1 AND flow_id = $2
		RETURNING created_at
	`
	err = s.db.QueryRow(ctx, query,
		r.ID, r.FlowID, r.Name, r.Description, string(r.Type),
		trigger, conditions, actions,
		r.Priority, r.Enabled, r.UpdatedAt,
	).Scan(&r.CreatedAt)
	if isNoRows(err) {
		return logic.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule and, by cascade, its metrics.
func (s *PostgresStore) DeleteRule(ctx context.Context, flowID, ruleID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM logic_rules WHERE id = $1 AND flow_id = $2`, ruleID, flowID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return logic.ErrNotFound
	}
	return nil
}

// RecordRuleMetric folds one execution into the rule's counters.
func (s *PostgresStore) RecordRuleMetric(ctx context.Context, ruleID string, success bool, latency time.Duration) error {
	var successes, failures int64
	if success {
		successes = 1
	} else {
		failures = 1
	}

	query := `
		INSERT INTO logic_rule_metrics (rule_id, executions, successes, failures, total_latency_us, last_executed_at)
		VALUES ($1, 1, $2, $3, $4, NOW())
		ON CONFLICT (rule_id) DO UPDATE SET
			executions = logic_rule_metrics.executions + 1,
			successes = logic_rule_metrics.successes + EXCLUDED.successes,
			failures = logic_rule_metrics.failures + EXCLUDED.failures,
			total_latency_us = logic_rule_metrics.total_latency_us + EXCLUDED.total_latency_us,
			last_executed_at = EXCLUDED.last_executed_at
	`
	if _, err := s.db.Exec(ctx, query, ruleID, successes, failures, latency.Microseconds()); err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return logic.ErrNotFound
		}
		return fmt.Errorf("failed to record rule metric: %w", err)
	}
	return nil
}

// GetRuleMetrics returns the counters of a rule that ran at least once.
func (s *PostgresStore) GetRuleMetrics(ctx context.Context, ruleID string) (*logic.RuleMetrics, error) {
	query := `
		SELECT rule_id, executions, successes, failures, total_latency_us, last_executed_at
		FROM logic_rule_metrics
		WHERE rule_id = $1
	`
	var (
		m         logic.RuleMetrics
		latencyUS int64
	)
	err := s.db.QueryRow(ctx, query, ruleID).Scan(
		&m.RuleID, &m.Executions, &m.Successes, &m.Failures, &latencyUS, &m.LastExecutedAt,
	)
	if isNoRows(err) {
		return nil, logic.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule metrics: %w", err)
	}

	if m.Executions > 0 {
		m.SuccessRate = float64(m.Successes) / float64(m.Executions) * 100
		m.AvgLatencyMs = float64(latencyUS) / float64(m.Executions) / 1000
	}
	return &m, nil
}

func marshalRule(r *ruleengine.LogicRule) (trigger, conditions, actions []byte, err error) {
	if trigger, err = json.Marshal(r.Trigger); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}
	if conditions, err = marshalList(r.Conditions); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	if actions, err = marshalList(r.Actions); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal actions: %w", err)
	}
	return trigger, conditions, actions, nil
}

// marshalList encodes a nil slice as an empty JSON array.
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}

func scanRule(row pgx.Row) (*ruleengine.LogicRule, error) {
	var (
		r                            ruleengine.LogicRule
		ruleType                     string
		trigger, conditions, actions []byte
	)
	if err := row.Scan(
		&r.ID, &r.FlowID, &r.Name, &r.Description, &ruleType,
		&trigger, &conditions, &actions,
		&r.Priority, &r.Enabled, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule row: %w", err)
	}

	r.Type = ruleengine.RuleType(ruleType)
	if err := json.Unmarshal(trigger, &r.Trigger); err != nil {
		return nil, fmt.Errorf("rule %s: failed to decode trigger: %w", r.ID, err)
	}
	if err := json.Unmarshal(conditions, &r.Conditions); err != nil {
		return nil, fmt.Errorf("rule %s: failed to decode conditions: %w", r.ID, err)
	}
	if err := json.Unmarshal(actions, &r.Actions); err != nil {
		return nil, fmt.Errorf("rule %s: failed to decode actions: %w", r.ID, err)
	}
	return &r, nil
}
