package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rafaeljc/leadflow/internal/logic"
	"github.com/rafaeljc/leadflow/internal/ruleengine"
)

const profileColumns = `id, flow_id, name, description, conditions, personalizations, priority, enabled, created_at, updated_at`

// ListProfiles returns every personalization profile of a flow ordered by
// ascending priority.
func (s *PostgresStore) ListProfiles(ctx context.Context, flowID string) ([]ruleengine.PersonalizationProfile, error) {
	query := `SELECT ` + profileColumns + `
		FROM personalization_profiles
		WHERE flow_id = $1
		ORDER BY priority ASC, created_at ASC, id ASC`

	rows, err := s.db.Query(ctx, query, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]ruleengine.PersonalizationProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return profiles, nil
}

// CreateProfile inserts a personalization profile.
func (s *PostgresStore) CreateProfile(ctx context.Context, p *ruleengine.PersonalizationProfile) error {
	conditions, personalizations, err := marshalProfile(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO personalization_profiles (id, flow_id, name, description, conditions, personalizations, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.Exec(ctx, query,
		p.ID, p.FlowID, p.Name, p.Description, conditions, personalizations,
		p.Priority, p.Enabled, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return fmt.Errorf("profile %q already exists", p.ID)
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// UpdateProfile replaces the mutable fields of a profile.
func (s *PostgresStore) UpdateProfile(ctx context.Context, p *ruleengine.PersonalizationProfile) error {
	conditions, personalizations, err := marshalProfile(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE personalization_profiles
		SET name = $3, description = $4, conditions = $5, personalizations = $6,
		    priority = $7, enabled = $8, updated_at = $9
		WHERE id = $1 AND flow_id = $2
		RETURNING created_at
	`
	err = s.db.QueryRow(ctx, query,
		p.ID, p.FlowID, p.Name, p.Description, conditions, personalizations,
		p.Priority, p.Enabled, p.UpdatedAt,
	).Scan(&p.CreatedAt)
	if isNoRows(err) {
		return logic.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// DeleteProfile removes a profile.
func (s *PostgresStore) DeleteProfile(ctx context.Context, flowID, profileID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM personalization_profiles WHERE id = $1 AND flow_id = $2`, profileID, flowID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return logic.ErrNotFound
	}
	return nil
}

func marshalProfile(p *ruleengine.PersonalizationProfile) (conditions, personalizations []byte, err error) {
	if conditions, err = marshalList(p.Conditions); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}
	if personalizations, err = marshalList(p.Personalizations); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal personalizations: %w", err)
	}
	return conditions, personalizations, nil
}

func scanProfile(row pgx.Row) (*ruleengine.PersonalizationProfile, error) {
	var (
		p                            ruleengine.PersonalizationProfile
		conditions, personalizations []byte
	)
	if err := row.Scan(
		&p.ID, &p.FlowID, &p.Name, &p.Description, &conditions, &personalizations,
		&p.Priority, &p.Enabled, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan profile row: %w", err)
	}

	if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
		return nil, fmt.Errorf("profile %s: failed to decode conditions: %w", p.ID, err)
	}
	if err := json.Unmarshal(personalizations, &p.Personalizations); err != nil {
		return nil, fmt.Errorf("profile %s: failed to decode personalizations: %w", p.ID, err)
	}
	return &p, nil
}
