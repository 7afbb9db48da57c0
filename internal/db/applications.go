package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

var applicationColumns = []string{
	"id", "user_id", "grant_id", "project_id", "status", "requested_amount", "approved_amount",
	"submission_date", "resolution_date", "notification_date", "documents", "checklist", "notes",
	"created_at", "updated_at",
}

// applicationUpdatable is the allow-list for partial updates.
var applicationUpdatable = map[string]bool{
	"status":            true,
	"project_id":        true,
	"requested_amount":  true,
	"approved_amount":   true,
	"submission_date":   true,
	"resolution_date":   true,
	"notification_date": true,
	"documents":         true,
	"checklist":         true,
	"notes":             true,
}

func scanApplication(row pgx.Row) (models.Application, error) {
	var a models.Application
	var status string
	var checklist []byte
	err := row.Scan(&a.ID, &a.UserID, &a.GrantID, &a.ProjectID, &status, &a.RequestedAmount, &a.ApprovedAmount,
		&a.SubmissionDate, &a.ResolutionDate, &a.NotificationDate, &a.Documents, &checklist, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	a.Status = models.ApplicationStatus(status)
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &a.Checklist); err != nil {
			return a, fmt.Errorf("decode checklist: %w", err)
		}
	}
	return a, nil
}

func (s *Store) CreateApplication(ctx context.Context, a *models.Application) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AppDraft
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	checklist, err := json.Marshal(checklistOrEmpty(a.Checklist))
	if err != nil {
		return fmt.Errorf("encode checklist: %w", err)
	}

	sqlStr, args, err := psql.Insert("applications").Columns(applicationColumns...).Values(
		a.ID, a.UserID, a.GrantID, a.ProjectID, string(a.Status), a.RequestedAmount, a.ApprovedAmount,
		a.SubmissionDate, a.ResolutionDate, a.NotificationDate, nonNil(a.Documents), checklist, a.Notes,
		a.CreatedAt, a.UpdatedAt,
	).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		if pgErrCode(err) == "23505" {
			return apperr.Conflict("an application for grant %s already exists", a.GrantID)
		}
		return mapError(err, "application")
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	sqlStr, args, err := psql.Select(applicationColumns...).From("applications").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanApplication(s.pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		return nil, mapError(err, "application "+id.String())
	}
	return &a, nil
}

func (s *Store) ListApplications(ctx context.Context, userID uuid.UUID, f models.ApplicationFilter) ([]models.Application, error) {
	where := sq.Eq{"user_id": userID}
	if f.Status != "" {
		where["status"] = string(f.Status)
	}
	if f.ProjectID != nil {
		where["project_id"] = *f.ProjectID
	}
	sqlStr, args, err := psql.Select(applicationColumns...).From("applications").
		Where(where).OrderBy("updated_at DESC", "id").ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}
	defer rows.Close()

	apps := []models.Application{}
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// UpdateApplication applies a sparse field map to an application owned by userID
// whose status is still from. Keys outside the allow-list and an empty map are rejected.
func (s *Store) UpdateApplication(ctx context.Context, userID, id uuid.UUID, from models.ApplicationStatus, fields map[string]any) (*models.Application, error) {
	if len(fields) == 0 {
		return nil, apperr.Invalid("", "no fields to update")
	}
	set := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if !applicationUpdatable[k] {
			return nil, apperr.Invalid(k, "field cannot be updated")
		}
		if k == "checklist" {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode checklist: %w", err)
			}
			v = b
		}
		set[k] = v
	}
	set["updated_at"] = time.Now().UTC()

	sqlStr, args, err := psql.Update("applications").SetMap(set).
		Where(sq.Eq{"id": id, "user_id": userID, "status": string(from)}).
		Suffix("RETURNING " + joinCols(applicationColumns)).
		ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanApplication(s.pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, apperr.Conflict("application %s was modified concurrently", id)
		}
		return nil, mapError(err, "application")
	}
	return &a, nil
}

// DeleteApplication hard-deletes an application owned by userID.
func (s *Store) DeleteApplication(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM applications WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("delete application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("application", id)
	}
	return nil
}

func checklistOrEmpty(items []models.ChecklistItem) []models.ChecklistItem {
	if items == nil {
		return []models.ChecklistItem{}
	}
	return items
}
