package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
	"github.com/david/grant-tracker/internal/search"
)

var grantColumns = []string{
	"id", "name", "description", "organization_name", "organization_type",
	"region", "province", "municipality",
	"heritage_types", "protection_levels", "eligible_beneficiaries",
	"min_amount", "max_amount", "funding_percentage",
	"call_open", "call_close", "resolution_date", "execution_deadline",
	"status", "year", "official_url", "bases_url", "application_url",
	"required_documents", "tags", "source", "external_id", "created_at", "updated_at",
}

func grantCols(alias string) []string {
	if alias == "" {
		return grantColumns
	}
	out := make([]string, len(grantColumns))
	for i, c := range grantColumns {
		out[i] = alias + "." + c
	}
	return out
}

// scanGrant reads grantColumns, optionally preceded by extra destinations.
func scanGrant(row pgx.Row, extra ...any) (models.Grant, error) {
	var g models.Grant
	var status string
	var externalID *string

	dest := append(extra,
		&g.ID, &g.Name, &g.Description, &g.Organization.Name, &g.Organization.Type,
		&g.Geography.Region, &g.Geography.Province, &g.Geography.Municipality,
		&g.Classification.HeritageTypes, &g.Classification.ProtectionLevels, &g.Classification.EligibleBeneficiaries,
		&g.Funding.MinAmount, &g.Funding.MaxAmount, &g.Funding.FundingPercentage,
		&g.Timeline.CallOpen, &g.Timeline.CallClose, &g.Timeline.ResolutionDate, &g.Timeline.ExecutionDeadline,
		&status, &g.Year, &g.Links.OfficialURL, &g.Links.BasesURL, &g.Links.ApplicationURL,
		&g.RequiredDocuments, &g.Tags, &g.Source, &externalID, &g.CreatedAt, &g.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return g, err
	}
	g.Status = models.GrantStatus(status)
	if externalID != nil {
		g.ExternalID = *externalID
	}
	return g, nil
}

func grantValues(g *models.Grant) []any {
	var externalID *string
	if g.ExternalID != "" {
		externalID = &g.ExternalID
	}
	heritage := g.Classification.HeritageTypes
	if len(heritage) == 0 {
		heritage = []string{models.HeritageGeneral}
	}
	return []any{
		g.ID, g.Name, g.Description, g.Organization.Name, g.Organization.Type,
		g.Geography.Region, g.Geography.Province, g.Geography.Municipality,
		heritage, nonNil(g.Classification.ProtectionLevels), nonNil(g.Classification.EligibleBeneficiaries),
		g.Funding.MinAmount, g.Funding.MaxAmount, g.Funding.FundingPercentage,
		g.Timeline.CallOpen, g.Timeline.CallClose, g.Timeline.ResolutionDate, g.Timeline.ExecutionDeadline,
		string(g.Status), g.Year, g.Links.OfficialURL, g.Links.BasesURL, g.Links.ApplicationURL,
		nonNil(g.RequiredDocuments), nonNil(g.Tags), g.Source, externalID, g.CreatedAt, g.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func prepareGrant(g *models.Grant) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Status == "" {
		g.Status = models.GrantActive
	}
	if g.Source == "" {
		g.Source = models.SourceManual
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
}

// SearchGrants returns one page of grants matching the compiled query, plus the total match count.
func (s *Store) SearchGrants(ctx context.Context, q search.Query) (search.Result, error) {
	countSQL, countArgs, err := psql.Select("COUNT(*)").From("grants").Where(q.Where()).ToSql()
	if err != nil {
		return search.Result{}, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return search.Result{}, fmt.Errorf("count grants: %w", err)
	}

	sqlStr, args, err := psql.Select(grantColumns...).From("grants").
		Where(q.Where()).
		OrderBy(q.OrderBy()...).
		Limit(uint64(q.Limit())).
		Offset(uint64(q.Offset())).
		ToSql()
	if err != nil {
		return search.Result{}, fmt.Errorf("build search query: %w", err)
	}

	grants, err := s.queryGrants(ctx, sqlStr, args...)
	if err != nil {
		return search.Result{}, err
	}
	return search.Result{Grants: grants, Pagination: search.NewPagination(q, total)}, nil
}

func (s *Store) queryGrants(ctx context.Context, sqlStr string, args ...any) ([]models.Grant, error) {
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	grants := []models.Grant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *Store) GetGrant(ctx context.Context, id uuid.UUID) (*models.Grant, error) {
	sqlStr, args, err := psql.Select(grantColumns...).From("grants").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	g, err := scanGrant(s.pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		return nil, mapError(err, "grant "+id.String())
	}
	return &g, nil
}

// ListActiveGrants returns every active grant in search order.
func (s *Store) ListActiveGrants(ctx context.Context) ([]models.Grant, error) {
	sqlStr, args, err := psql.Select(grantColumns...).From("grants").
		Where(sq.Eq{"status": string(models.GrantActive)}).
		OrderBy("call_close ASC NULLS LAST", "created_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryGrants(ctx, sqlStr, args...)
}

func (s *Store) CountGrants(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM grants").Scan(&n); err != nil {
		return 0, fmt.Errorf("count grants: %w", err)
	}
	return n, nil
}

// CreateGrant inserts a manually entered grant.
func (s *Store) CreateGrant(ctx context.Context, g *models.Grant) error {
	prepareGrant(g)
	sqlStr, args, err := psql.Insert("grants").Columns(grantColumns...).Values(grantValues(g)...).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return mapError(err, "grant")
	}
	return nil
}

// InsertGrantIfAbsent inserts g unless a grant with the same name (case-insensitive)
// or an official URL embedding g.ExternalID already exists. Concurrent callers are
// serialized per name by an advisory lock; the external_id unique index covers the rest.
func (s *Store) InsertGrantIfAbsent(ctx context.Context, g *models.Grant) (bool, error) {
	prepareGrant(g)
	inserted := false

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext(LOWER($1)))", g.Name); err != nil {
			return fmt.Errorf("lock grant name: %w", err)
		}

		exists := sq.Or{sq.Expr("LOWER(name) = LOWER(?)", g.Name)}
		if g.ExternalID != "" {
			exists = append(exists, sq.Eq{"external_id": g.ExternalID}, sq.Like{"official_url": "%" + likeEscape(g.ExternalID) + "%"})
		}
		checkSQL, checkArgs, err := psql.Select("1").From("grants").Where(exists).Limit(1).ToSql()
		if err != nil {
			return err
		}
		var one int
		err = tx.QueryRow(ctx, checkSQL, checkArgs...).Scan(&one)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check existing grant: %w", err)
		}

		insSQL, insArgs, err := psql.Insert("grants").Columns(grantColumns...).Values(grantValues(g)...).
			Suffix("ON CONFLICT (external_id) WHERE external_id IS NOT NULL DO NOTHING").
			ToSql()
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, insSQL, insArgs...)
		if err != nil {
			return mapError(err, "grant")
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	return inserted, err
}

// DeleteGrant removes a grant that no favorite or application references.
func (s *Store) DeleteGrant(ctx context.Context, id uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var referenced bool
		err := tx.QueryRow(ctx, `SELECT
			EXISTS(SELECT 1 FROM favorites WHERE grant_id = $1) OR
			EXISTS(SELECT 1 FROM applications WHERE grant_id = $1)`, id).Scan(&referenced)
		if err != nil {
			return fmt.Errorf("check grant references: %w", err)
		}
		if referenced {
			return apperr.Conflict("grant %s is referenced by favorites or applications", id)
		}

		tag, err := tx.Exec(ctx, "DELETE FROM grants WHERE id = $1", id)
		if err != nil {
			if pgErrCode(err) == "23503" {
				return apperr.Conflict("grant %s is still referenced", id)
			}
			return mapError(err, "grant")
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("grant", id)
		}
		return nil
	})
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
