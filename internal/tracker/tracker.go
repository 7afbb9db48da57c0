// Package tracker manages a user's favorite grants and funding applications.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

type Store interface {
	GetGrant(ctx context.Context, id uuid.UUID) (*models.Grant, error)
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)

	ToggleFavorite(ctx context.Context, userID, grantID uuid.UUID, notes string) (models.FavoriteState, error)
	ListFavorites(ctx context.Context, userID uuid.UUID) ([]models.Favorite, error)

	CreateApplication(ctx context.Context, a *models.Application) error
	GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error)
	ListApplications(ctx context.Context, userID uuid.UUID, f models.ApplicationFilter) ([]models.Application, error)
	UpdateApplication(ctx context.Context, userID, id uuid.UUID, from models.ApplicationStatus, fields map[string]any) (*models.Application, error)
	DeleteApplication(ctx context.Context, userID, id uuid.UUID) error
}

type Service struct {
	Store Store
	Now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// ToggleFavorite adds the grant to the user's favorites if absent and removes it if present.
func (s *Service) ToggleFavorite(ctx context.Context, userID, grantID uuid.UUID, notes string) (models.FavoriteState, error) {
	if grantID == uuid.Nil {
		return models.FavoriteAbsent, apperr.Invalid("grantId", "is required")
	}
	state, err := s.Store.ToggleFavorite(ctx, userID, grantID, notes)
	if err != nil {
		return state, err
	}
	log.WithFields(log.Fields{"user_id": userID, "grant_id": grantID, "state": state}).Debug("[Favorites] Toggled")
	return state, nil
}

func (s *Service) ListFavorites(ctx context.Context, userID uuid.UUID) ([]models.Favorite, error) {
	return s.Store.ListFavorites(ctx, userID)
}

type CreateApplicationRequest struct {
	GrantID         uuid.UUID  `json:"grantId"`
	ProjectID       *uuid.UUID `json:"projectId"`
	RequestedAmount *float64   `json:"requestedAmount"`
	Notes           string     `json:"notes"`
}

// CreateApplication opens a draft application with a checklist seeded from the grant's
// required documents. A second application for the same grant is a conflict.
func (s *Service) CreateApplication(ctx context.Context, userID uuid.UUID, req CreateApplicationRequest) (*models.Application, error) {
	if req.GrantID == uuid.Nil {
		return nil, apperr.Invalid("grantId", "is required")
	}
	if req.RequestedAmount != nil && *req.RequestedAmount < 0 {
		return nil, apperr.Invalid("requestedAmount", "must not be negative")
	}
	g, err := s.Store.GetGrant(ctx, req.GrantID)
	if err != nil {
		return nil, err
	}
	if req.ProjectID != nil {
		if err := s.checkProject(ctx, userID, *req.ProjectID); err != nil {
			return nil, err
		}
	}

	a := &models.Application{
		UserID:          userID,
		GrantID:         g.ID,
		ProjectID:       req.ProjectID,
		Status:          models.AppDraft,
		RequestedAmount: req.RequestedAmount,
		Documents:       []string{},
		Checklist:       models.SeedChecklist(g.RequiredDocuments),
		Notes:           req.Notes,
	}
	if err := s.Store.CreateApplication(ctx, a); err != nil {
		return nil, err
	}
	a.Grant = g
	log.WithFields(log.Fields{"user_id": userID, "application_id": a.ID, "checklist": len(a.Checklist)}).Info("[Applications] Created")
	return a, nil
}

func (s *Service) ListApplications(ctx context.Context, userID uuid.UUID, f models.ApplicationFilter) ([]models.Application, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	return s.Store.ListApplications(ctx, userID, f)
}

// UpdateApplication applies only the supplied fields. Status changes must follow the
// application state machine.
func (s *Service) UpdateApplication(ctx context.Context, userID, id uuid.UUID, patch models.ApplicationPatch) (*models.Application, error) {
	if len(patch.Fields()) == 0 {
		return nil, apperr.Invalid("", "no fields to update")
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	current, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if patch.Status != nil {
		next := *patch.Status
		if !current.Status.CanTransition(next) {
			return nil, apperr.Conflict("cannot move application from %s to %s", current.Status, next)
		}
		if next == models.AppSubmitted && current.Status != models.AppSubmitted &&
			patch.SubmissionDate.Value == nil && current.SubmissionDate == nil {
			patch.SubmissionDate = models.Some(s.Now().Truncate(24 * time.Hour))
		}
	}
	if patch.ProjectID.Value != nil {
		if err := s.checkProject(ctx, userID, *patch.ProjectID.Value); err != nil {
			return nil, err
		}
	}

	updated, err := s.Store.UpdateApplication(ctx, userID, id, current.Status, patch.Fields())
	if err != nil {
		return nil, err
	}
	if patch.Status != nil && *patch.Status != current.Status {
		log.WithFields(log.Fields{"application_id": id, "from": current.Status, "to": *patch.Status}).Info("[Applications] Status changed")
	}
	return updated, nil
}

func (s *Service) DeleteApplication(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.Store.DeleteApplication(ctx, userID, id)
}

func (s *Service) owned(ctx context.Context, userID, id uuid.UUID) (*models.Application, error) {
	a, err := s.Store.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, apperr.Forbidden("application", id)
	}
	return a, nil
}

func (s *Service) checkProject(ctx context.Context, userID, projectID uuid.UUID) error {
	p, err := s.Store.GetProject(ctx, projectID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Forbidden("project", projectID)
	}
	if err != nil {
		return err
	}
	if p.UserID != userID {
		return apperr.Forbidden("project", projectID)
	}
	return nil
}

func validatePatch(p models.ApplicationPatch) error {
	if p.Status != nil && !p.Status.Valid() {
		return apperr.Invalid("status", fmt.Sprintf("unknown status %q", *p.Status))
	}
	if p.RequestedAmount.Value != nil && *p.RequestedAmount.Value < 0 {
		return apperr.Invalid("requestedAmount", "must not be negative")
	}
	if p.ApprovedAmount.Value != nil && *p.ApprovedAmount.Value < 0 {
		return apperr.Invalid("approvedAmount", "must not be negative")
	}
	if p.Checklist != nil {
		seen := map[string]bool{}
		for _, item := range *p.Checklist {
			if item.ID == "" || item.Name == "" {
				return apperr.Invalid("checklist", "every item needs an id and a name")
			}
			if seen[item.ID] {
				return apperr.Invalid("checklist", fmt.Sprintf("duplicate item id %q", item.ID))
			}
			seen[item.ID] = true
		}
	}
	return nil
}
