package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/leadflow/internal/experiment"
	"github.com/rafaeljc/leadflow/internal/stats"
)

const testColumns = `id, base_flow_id, name, description, status, traffic_split, min_sample_size,
	confidence_level, success_metric, created_at, updated_at, started_at, ended_at`

// CreateTest stores the test, its variants and the first published version
// of every non-control variant flow in one transaction.
func (s *PostgresStore) CreateTest(ctx context.Context, t *experiment.Test) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO ab_tests (id, base_flow_id, name, description, status, traffic_split,
			                      min_sample_size, confidence_level, success_metric, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.ID, t.BaseFlowID, t.Name, t.Description, string(t.Status), t.TrafficSplit,
			t.MinSampleSize, t.ConfidenceLevel, t.SuccessMetric, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			if hasCode(err, codeUniqueViolation) {
				return fmt.Errorf("test %q: %w", t.ID, experiment.ErrConflict)
			}
			return fmt.Errorf("failed to insert test: %w", err)
		}

		for _, v := range t.Variants {
			_, err := tx.Exec(ctx, `
				INSERT INTO ab_test_variants (id, test_id, name, flow_id, is_control, traffic_allocation, position, payload)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				v.ID, t.ID, v.Name, v.FlowID, v.IsControl, v.TrafficAllocation, v.Position, nullableJSON(v.Payload),
			)
			if err != nil {
				return fmt.Errorf("failed to insert variant %s: %w", v.Name, err)
			}

			if v.IsControl || len(v.Payload) == 0 {
				continue
			}
			if _, err := publishVersion(ctx, tx, v.FlowID, v.Payload, t.CreatedAt); err != nil {
				return fmt.Errorf("failed to seed variant flow %s: %w", v.FlowID, err)
			}
		}
		return nil
	})
}

// GetTest returns a test with its variants in stored order.
func (s *PostgresStore) GetTest(ctx context.Context, id string) (*experiment.Test, error) {
	t, err := scanTest(s.db.QueryRow(ctx, `SELECT `+testColumns+` FROM ab_tests WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, experiment.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	variants, err := s.variantsOf(ctx, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.Variants = variants[t.ID]
	return t, nil
}

// GetRunningTestForFlow returns the running test of a base flow.
func (s *PostgresStore) GetRunningTestForFlow(ctx context.Context, baseFlowID string) (*experiment.Test, error) {
	var id string
	err := s.db.QueryRow(ctx,
		`SELECT id FROM ab_tests WHERE base_flow_id = $1 AND status = 'running'`,
		baseFlowID,
	).Scan(&id)
	if isNoRows(err) {
		return nil, experiment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find running test: %w", err)
	}
	return s.GetTest(ctx, id)
}

// ListTestsByStatus returns every test in a status, oldest first.
func (s *PostgresStore) ListTestsByStatus(ctx context.Context, status experiment.Status) ([]experiment.Test, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+testColumns+` FROM ab_tests WHERE status = $1 ORDER BY created_at ASC, id ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	tests := make([]experiment.Test, 0)
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	if len(tests) == 0 {
		return tests, nil
	}

	ids := make([]string, len(tests))
	for i := range tests {
		ids[i] = tests[i].ID
	}
	variants, err := s.variantsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range tests {
		tests[i].Variants = variants[tests[i].ID]
	}
	return tests, nil
}

// UpdateTestStatus moves a test from one status to another with a
// conditional update. started_at is set on the first start and ended_at on
// completion.
func (s *PostgresStore) UpdateTestStatus(ctx context.Context, id string, from, to experiment.Status, at time.Time) error {
	query := `
		UPDATE ab_tests
		SET status = $3::text,
		    updated_at = $4::timestamptz,
		    started_at = CASE WHEN $3::text = 'running' AND started_at IS NULL THEN $4::timestamptz ELSE started_at END,
		    ended_at = CASE WHEN $3::text = 'completed' THEN $4::timestamptz ELSE ended_at END
		WHERE id = $1 AND status = $2
	`
	tag, err := s.db.Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		// Another test of the same base flow is already running.
		if hasCode(err, codeUniqueViolation) {
			return fmt.Errorf("test %s: %w", id, experiment.ErrConflict)
		}
		return fmt.Errorf("failed to update test status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ab_tests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check test: %w", err)
	}
	if !exists {
		return experiment.ErrNotFound
	}
	return fmt.Errorf("test %s is no longer %s: %w", id, from, experiment.ErrConflict)
}

// RecordInteraction appends one interaction.
func (s *PostgresStore) RecordInteraction(ctx context.Context, i *experiment.Interaction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO ab_test_interactions (id, test_id, variant_id, visitor_id, event, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		i.ID, i.TestID, i.VariantID, i.VisitorID, string(i.Event), nullableJSON(i.Metadata), i.OccurredAt,
	)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return experiment.ErrNotFound
		}
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

// CountInteractions aggregates views and conversions per variant.
func (s *PostgresStore) CountInteractions(ctx context.Context, testID string) (map[string]experiment.Tally, error) {
	rows, err := s.db.Query(ctx, `
		SELECT variant_id,
		       COUNT(*) FILTER (WHERE event = 'view'),
		       COUNT(*) FILTER (WHERE event = 'conversion')
		FROM ab_test_interactions
		WHERE test_id = $1
		GROUP BY variant_id`,
		testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}
	defer rows.Close()

	tallies := make(map[string]experiment.Tally)
	for rows.Next() {
		var (
			variantID string
			t         experiment.Tally
		)
		if err := rows.Scan(&variantID, &t.Views, &t.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan tally row: %w", err)
		}
		tallies[variantID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return tallies, nil
}

// SaveResults replaces the stored results snapshot of a test.
func (s *PostgresStore) SaveResults(ctx context.Context, r *stats.Results) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO ab_test_results (test_id, results, last_calculated)
		VALUES ($1, $2, $3)
		ON CONFLICT (test_id) DO UPDATE SET
			results = EXCLUDED.results,
			last_calculated = EXCLUDED.last_calculated`,
		r.TestID, payload, r.LastCalculated,
	)
	if err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	return nil
}

// GetSavedResults returns the last stored results snapshot of a test.
func (s *PostgresStore) GetSavedResults(ctx context.Context, testID string) (*stats.Results, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT results FROM ab_test_results WHERE test_id = $1`, testID).Scan(&payload)
	if isNoRows(err) {
		return nil, experiment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	var r stats.Results
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) variantsOf(ctx context.Context, testIDs []string) (map[string][]experiment.Variant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, test_id, name, flow_id, is_control, traffic_allocation, position, payload
		FROM ab_test_variants
		WHERE test_id = ANY($1)
		ORDER BY test_id, position ASC`,
		testIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]experiment.Variant, len(testIDs))
	for rows.Next() {
		var (
			v       experiment.Variant
			payload []byte
		)
		if err := rows.Scan(&v.ID, &v.TestID, &v.Name, &v.FlowID, &v.IsControl,
			&v.TrafficAllocation, &v.Position, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan variant row: %w", err)
		}
		if len(payload) > 0 {
			v.Payload = json.RawMessage(payload)
		}
		out[v.TestID] = append(out[v.TestID], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

func scanTest(row pgx.Row) (*experiment.Test, error) {
	var (
		t      experiment.Test
		status string
	)
	if err := row.Scan(
		&t.ID, &t.BaseFlowID, &t.Name, &t.Description, &status, &t.TrafficSplit, &t.MinSampleSize,
		&t.ConfidenceLevel, &t.SuccessMetric, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.EndedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan test row: %w", err)
	}
	t.Status = experiment.Status(status)
	return &t, nil
}

// nullableJSON stores an absent payload as SQL NULL.
func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
