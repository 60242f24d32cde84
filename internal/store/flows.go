package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/leadflow/internal/experiment"
)

// GetPublishedFlow returns the highest published version of a flow.
func (s *PostgresStore) GetPublishedFlow(ctx context.Context, flowID string) (*experiment.FlowVersion, error) {
	var (
		v       experiment.FlowVersion
		payload []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, flow_id, version, status, payload, created_at
		FROM flow_versions
		WHERE flow_id = $1 AND status = 'published'
		ORDER BY version DESC
		LIMIT 1`,
		flowID,
	).Scan(&v.ID, &v.FlowID, &v.Version, &v.Status, &payload, &v.CreatedAt)
	if isNoRows(err) {
		return nil, experiment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load published flow: %w", err)
	}
	v.Payload = json.RawMessage(payload)
	return &v, nil
}

// PublishFlowVersion stores payload as the next published version of a flow.
func (s *PostgresStore) PublishFlowVersion(ctx context.Context, flowID string, payload json.RawMessage, at time.Time) (int, error) {
	var version int
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		version, err = publishVersion(ctx, tx, flowID, payload, at)
		return err
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// PromoteWinner publishes the winner's payload on the base flow, completes
// the test and appends the audit entry. Either every write lands or none.
func (s *PostgresStore) PromoteWinner(ctx context.Context, p experiment.Promotion) (int, error) {
	var version int
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM ab_tests WHERE id = $1 FOR UPDATE`, p.TestID).Scan(&status)
		if isNoRows(err) {
			return experiment.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock test: %w", err)
		}
		if experiment.Status(status) == experiment.StatusCompleted {
			return fmt.Errorf("test %s is already completed: %w", p.TestID, experiment.ErrConflict)
		}

		version, err = publishVersion(ctx, tx, p.BaseFlowID, p.Payload, p.PromotedAt)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE ab_tests
			SET status = 'completed', ended_at = $2, updated_at = $2
			WHERE id = $1`,
			p.TestID, p.PromotedAt,
		); err != nil {
			return fmt.Errorf("failed to complete test: %w", err)
		}

		details, err := json.Marshal(map[string]any{
			"variantId":  p.VariantID,
			"baseFlowId": p.BaseFlowID,
			"version":    version,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO audit_log (entity_type, entity_id, action, details, created_at)
			VALUES ('ab_test', $1, 'promote_winner', $2, $3)`,
			p.TestID, details, p.PromotedAt,
		); err != nil {
			return fmt.Errorf("failed to write audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// publishVersion inserts version max+1 as published and archives the
// versions that were published before it. A concurrent publish of the same
// flow trips the (flow_id, version) constraint and yields ErrConflict.
func publishVersion(ctx context.Context, tx pgx.Tx, flowID string, payload json.RawMessage, at time.Time) (int, error) {
	var version int
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM flow_versions WHERE flow_id = $1`,
		flowID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next version: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE flow_versions SET status = 'archived' WHERE flow_id = $1 AND status = 'published'`,
		flowID,
	); err != nil {
		return 0, fmt.Errorf("failed to archive published versions: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO flow_versions (id, flow_id, version, status, payload, created_at)
		VALUES ($1, $2, $3, 'published', $4, $5)`,
		uuid.NewString(), flowID, version, []byte(payload), at,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return 0, fmt.Errorf("flow %s version %d: %w", flowID, version, experiment.ErrConflict)
		}
		return 0, fmt.Errorf("failed to insert flow version: %w", err)
	}
	return version, nil
}
