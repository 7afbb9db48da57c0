package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

// Sync configs and runs

func (s *Store) GetSyncConfig(_ context.Context, userID uuid.UUID) (*models.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.syncConfigs[userID]
	if !ok {
		return nil, apperr.NotFound("sync config for user", userID)
	}
	return &c, nil
}

func (s *Store) UpsertSyncConfig(_ context.Context, c *models.SyncConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.syncConfigs[c.UserID]; ok {
		c.CreatedAt = existing.CreatedAt
		c.LastSync = existing.LastSync
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.syncConfigs[c.UserID] = *c
	return nil
}

func (s *Store) ListDueSyncConfigs(_ context.Context, now time.Time) ([]models.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncConfig
	for _, c := range s.syncConfigs {
		if c.Enabled && c.NextSync != nil && !c.NextSync.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextSync.Before(*out[j].NextSync) })
	return out, nil
}

func (s *Store) ListSyncConfigs(_ context.Context, limit int) ([]models.SyncConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncConfig
	for _, c := range s.syncConfigs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkSynced(_ context.Context, userID uuid.UUID, last time.Time, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.syncConfigs[userID]
	if !ok || !c.Enabled {
		return nil
	}
	c.LastSync = &last
	c.NextSync = next
	c.UpdatedAt = s.now()
	s.syncConfigs[userID] = c
	return nil
}

func (s *Store) DisableSyncConfig(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.syncConfigs[userID]
	if !ok {
		return nil
	}
	c.Enabled = false
	c.NextSync = nil
	c.UpdatedAt = s.now()
	s.syncConfigs[userID] = c
	return nil
}

func (s *Store) RecordSyncRun(_ context.Context, r *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.syncRuns = append(s.syncRuns, *r)
	return nil
}

func (s *Store) ListSyncRuns(_ context.Context, limit int) ([]models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncRun, 0, len(s.syncRuns))
	for i := len(s.syncRuns) - 1; i >= 0; i-- {
		out = append(out, s.syncRuns[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Alert profiles

func (s *Store) GetAlertProfile(_ context.Context, userID uuid.UUID) (*models.AlertProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.alertProfiles[userID]
	if !ok {
		return nil, apperr.NotFound("alert profile for user", userID)
	}
	return &p, nil
}

func (s *Store) UpsertAlertProfile(_ context.Context, p *models.AlertProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.alertProfiles[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.alertProfiles[p.UserID] = *p
	return nil
}

func (s *Store) DeleteAlertProfile(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alertProfiles[userID]; !ok {
		return apperr.NotFound("alert profile for user", userID)
	}
	delete(s.alertProfiles, userID)
	return nil
}

func (s *Store) ListAlertProfiles(_ context.Context, freq models.AlertFrequency) ([]models.AlertProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AlertProfile
	for _, p := range s.alertProfiles {
		if freq == "" || p.Frequency == freq {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

// Favorites

func (s *Store) ToggleFavorite(_ context.Context, userID, grantID uuid.UUID, notes string) (models.FavoriteState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[grantID]; !ok {
		return models.FavoriteAbsent, apperr.NotFound("grant", grantID)
	}
	key := favoriteKey{user: userID, grant: grantID}
	_, present := s.favorites[key]
	next := models.FavoriteState(present).Toggle()
	if next == models.FavoritePresent {
		s.favorites[key] = models.Favorite{UserID: userID, GrantID: grantID, Notes: notes, CreatedAt: s.now()}
	} else {
		delete(s.favorites, key)
	}
	return next, nil
}

func (s *Store) ListFavorites(_ context.Context, userID uuid.UUID) ([]models.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Favorite{}
	for k, f := range s.favorites {
		if k.user != userID {
			continue
		}
		if g, ok := s.grants[k.grant]; ok {
			f.Grant = &g
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Applications

func (s *Store) CreateApplication(_ context.Context, a *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[a.GrantID]; !ok {
		return apperr.NotFound("grant", a.GrantID)
	}
	for _, existing := range s.applications {
		if existing.UserID == a.UserID && existing.GrantID == a.GrantID {
			return apperr.Conflict("an application for grant %s already exists", a.GrantID)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AppDraft
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.applications[a.ID] = cloneApplication(*a)
	return nil
}

func (s *Store) GetApplication(_ context.Context, id uuid.UUID) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok {
		return nil, apperr.NotFound("application", id)
	}
	a = cloneApplication(a)
	return &a, nil
}

func (s *Store) ListApplications(_ context.Context, userID uuid.UUID, f models.ApplicationFilter) ([]models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Application{}
	for _, a := range s.applications {
		if a.UserID != userID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.ProjectID != nil && (a.ProjectID == nil || *a.ProjectID != *f.ProjectID) {
			continue
		}
		out = append(out, cloneApplication(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// UpdateApplication applies fields produced by ApplicationPatch.Fields.
func (s *Store) UpdateApplication(_ context.Context, userID, id uuid.UUID, from models.ApplicationStatus, fields map[string]any) (*models.Application, error) {
	if len(fields) == 0 {
		return nil, apperr.Invalid("", "no fields to update")
	}
	patch, err := patchFromFields(fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok || a.UserID != userID || a.Status != from {
		return nil, apperr.Conflict("application %s was modified concurrently", id)
	}
	patch.Apply(&a)
	a.UpdatedAt = s.now()
	s.applications[id] = cloneApplication(a)
	return &a, nil
}

func (s *Store) DeleteApplication(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok || a.UserID != userID {
		return apperr.NotFound("application", id)
	}
	delete(s.applications, id)
	for i := range s.notifications {
		if n := &s.notifications[i]; n.ApplicationID != nil && *n.ApplicationID == id {
			n.ApplicationID = nil
		}
	}
	return nil
}

func cloneApplication(a models.Application) models.Application {
	a.Documents = append([]string(nil), a.Documents...)
	a.Checklist = append([]models.ChecklistItem(nil), a.Checklist...)
	return a
}

func nullable[T any](v *T) models.Nullable[T] {
	return models.Nullable[T]{Set: true, Value: v}
}

// patchFromFields converts an allow-listed column map back into a patch.
func patchFromFields(fields map[string]any) (models.ApplicationPatch, error) {
	var p models.ApplicationPatch
	for k, v := range fields {
		ok := true
		switch k {
		case "status":
			var s string
			s, ok = v.(string)
			st := models.ApplicationStatus(s)
			p.Status = &st
		case "project_id":
			var id *uuid.UUID
			id, ok = v.(*uuid.UUID)
			p.ProjectID = nullable(id)
		case "requested_amount", "approved_amount":
			var f *float64
			f, ok = v.(*float64)
			if k == "requested_amount" {
				p.RequestedAmount = nullable(f)
			} else {
				p.ApprovedAmount = nullable(f)
			}
		case "submission_date", "resolution_date", "notification_date":
			var t *time.Time
			t, ok = v.(*time.Time)
			switch k {
			case "submission_date":
				p.SubmissionDate = nullable(t)
			case "resolution_date":
				p.ResolutionDate = nullable(t)
			default:
				p.NotificationDate = nullable(t)
			}
		case "documents":
			var docs []string
			docs, ok = v.([]string)
			p.Documents = &docs
		case "checklist":
			var items []models.ChecklistItem
			items, ok = v.([]models.ChecklistItem)
			p.Checklist = &items
		case "notes":
			var n string
			n, ok = v.(string)
			p.Notes = &n
		default:
			return p, apperr.Invalid(k, "field cannot be updated")
		}
		if !ok {
			return p, apperr.Invalid(k, "has the wrong type")
		}
	}
	return p, nil
}
