package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

const alertProfileCols = `user_id, regions, heritage_types, organization_types, min_amount,
	email_enabled, in_app_enabled, frequency, created_at, updated_at`

func scanAlertProfile(row pgx.Row) (models.AlertProfile, error) {
	var p models.AlertProfile
	var freq string
	err := row.Scan(&p.UserID, &p.Regions, &p.HeritageTypes, &p.OrganizationTypes, &p.MinAmount,
		&p.EmailEnabled, &p.InAppEnabled, &freq, &p.CreatedAt, &p.UpdatedAt)
	p.Frequency = models.AlertFrequency(freq)
	return p, err
}

func (s *Store) GetAlertProfile(ctx context.Context, userID uuid.UUID) (*models.AlertProfile, error) {
	p, err := scanAlertProfile(s.pool.QueryRow(ctx,
		"SELECT "+alertProfileCols+" FROM alert_profiles WHERE user_id = $1", userID))
	if err != nil {
		return nil, mapError(err, "alert profile")
	}
	return &p, nil
}

func (s *Store) UpsertAlertProfile(ctx context.Context, p *models.AlertProfile) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO alert_profiles (user_id, regions, heritage_types, organization_types, min_amount, email_enabled, in_app_enabled, frequency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			regions = EXCLUDED.regions,
			heritage_types = EXCLUDED.heritage_types,
			organization_types = EXCLUDED.organization_types,
			min_amount = EXCLUDED.min_amount,
			email_enabled = EXCLUDED.email_enabled,
			in_app_enabled = EXCLUDED.in_app_enabled,
			frequency = EXCLUDED.frequency,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		p.UserID, nonNil(p.Regions), nonNil(p.HeritageTypes), nonNil(p.OrganizationTypes), p.MinAmount,
		p.EmailEnabled, p.InAppEnabled, string(p.Frequency),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapError(err, "alert profile")
	}
	return nil
}

func (s *Store) DeleteAlertProfile(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM alert_profiles WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("delete alert profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("alert profile for user", userID)
	}
	return nil
}

// ListAlertProfiles returns every profile, or only those with the given frequency.
func (s *Store) ListAlertProfiles(ctx context.Context, freq models.AlertFrequency) ([]models.AlertProfile, error) {
	sqlStr := "SELECT " + alertProfileCols + " FROM alert_profiles"
	var args []any
	if freq != "" {
		sqlStr += " WHERE frequency = $1"
		args = append(args, string(freq))
	}
	rows, err := s.pool.Query(ctx, sqlStr+" ORDER BY user_id", args...)
	if err != nil {
		return nil, fmt.Errorf("query alert profiles: %w", err)
	}
	defer rows.Close()

	var out []models.AlertProfile
	for rows.Next() {
		p, err := scanAlertProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
