package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/grant-tracker/internal/models"
)

const syncConfigCols = `user_id, enabled, frequency, search_terms, auto_import, notify_new,
	last_sync, next_sync, created_at, updated_at`

func scanSyncConfig(row pgx.Row) (models.SyncConfig, error) {
	var c models.SyncConfig
	var freq string
	err := row.Scan(&c.UserID, &c.Enabled, &freq, &c.SearchTerms, &c.AutoImport, &c.NotifyNew,
		&c.LastSync, &c.NextSync, &c.CreatedAt, &c.UpdatedAt)
	c.Frequency = models.SyncFrequency(freq)
	return c, err
}

func (s *Store) GetSyncConfig(ctx context.Context, userID uuid.UUID) (*models.SyncConfig, error) {
	c, err := scanSyncConfig(s.pool.QueryRow(ctx,
		"SELECT "+syncConfigCols+" FROM sync_configs WHERE user_id = $1", userID))
	if err != nil {
		return nil, mapError(err, "sync config")
	}
	return &c, nil
}

// UpsertSyncConfig writes the per-user singleton keyed by user_id.
func (s *Store) UpsertSyncConfig(ctx context.Context, c *models.SyncConfig) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_configs (user_id, enabled, frequency, search_terms, auto_import, notify_new, last_sync, next_sync)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			frequency = EXCLUDED.frequency,
			search_terms = EXCLUDED.search_terms,
			auto_import = EXCLUDED.auto_import,
			notify_new = EXCLUDED.notify_new,
			next_sync = EXCLUDED.next_sync,
			updated_at = NOW()
		RETURNING last_sync, created_at, updated_at`,
		c.UserID, c.Enabled, string(c.Frequency), nonNil(c.SearchTerms), c.AutoImport, c.NotifyNew, c.LastSync, c.NextSync,
	).Scan(&c.LastSync, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return mapError(err, "sync config")
	}
	return nil
}

// ListDueSyncConfigs returns enabled configs whose next_sync is at or before now.
func (s *Store) ListDueSyncConfigs(ctx context.Context, now time.Time) ([]models.SyncConfig, error) {
	return s.querySyncConfigs(ctx,
		"SELECT "+syncConfigCols+" FROM sync_configs WHERE enabled AND next_sync <= $1 ORDER BY next_sync", now)
}

func (s *Store) ListSyncConfigs(ctx context.Context, limit int) ([]models.SyncConfig, error) {
	return s.querySyncConfigs(ctx,
		"SELECT "+syncConfigCols+" FROM sync_configs ORDER BY updated_at DESC LIMIT $1", limit)
}

func (s *Store) querySyncConfigs(ctx context.Context, sqlStr string, args ...any) ([]models.SyncConfig, error) {
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync configs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncConfig
	for rows.Next() {
		c, err := scanSyncConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkSynced records a completed scheduled run. Disabled configs are left alone.
func (s *Store) MarkSynced(ctx context.Context, userID uuid.UUID, last time.Time, next *time.Time) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE sync_configs SET last_sync = $2, next_sync = $3, updated_at = NOW() WHERE user_id = $1 AND enabled",
		userID, last, next)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

func (s *Store) DisableSyncConfig(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE sync_configs SET enabled = FALSE, next_sync = NULL, updated_at = NOW() WHERE user_id = $1",
		userID)
	if err != nil {
		return fmt.Errorf("disable sync config: %w", err)
	}
	return nil
}

func (s *Store) RecordSyncRun(ctx context.Context, r *models.SyncRun) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, user_id, search_term, trigger, outcome, total, imported, skipped, failed, errors, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.UserID, r.SearchTerm, r.Trigger, string(r.Outcome), r.Total, r.Imported, r.Skipped, r.Failed,
		nonNil(r.Errors), r.StartedAt, r.FinishedAt)
	if err != nil {
		return mapError(err, "sync run")
	}
	return nil
}

func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, search_term, trigger, outcome, total, imported, skipped, failed, errors, started_at, finished_at
		FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		var outcome string
		if err := rows.Scan(&r.ID, &r.UserID, &r.SearchTerm, &r.Trigger, &outcome, &r.Total, &r.Imported,
			&r.Skipped, &r.Failed, &r.Errors, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		r.Outcome = models.SyncOutcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}
