package alerts

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

func isNotFound(err error) bool { return errors.Is(err, apperr.ErrNotFound) }

// SaveRequest is the user-editable part of an alert profile.
type SaveRequest struct {
	Regions           []string              `json:"regions"`
	HeritageTypes     []string              `json:"heritageTypes"`
	OrganizationTypes []string              `json:"organizationTypes"`
	MinAmount         *float64              `json:"minAmount"`
	EmailEnabled      *bool                 `json:"emailEnabled"`
	InAppEnabled      *bool                 `json:"inAppEnabled"`
	Frequency         models.AlertFrequency `json:"frequency"`
}

// GetProfile returns nil without error when the user has no profile.
func (m *Matcher) GetProfile(ctx context.Context, userID uuid.UUID) (*models.AlertProfile, error) {
	p, err := m.Profiles.GetAlertProfile(ctx, userID)
	if isNotFound(err) {
		return nil, nil
	}
	return p, err
}

func (m *Matcher) SaveProfile(ctx context.Context, userID uuid.UUID, req SaveRequest) (*models.AlertProfile, error) {
	if req.Frequency == "" {
		req.Frequency = models.AlertImmediate
	}
	if req.Frequency != models.AlertImmediate && req.Frequency != models.AlertDigest {
		return nil, apperr.Invalid("frequency", "must be immediate or digest")
	}
	if req.MinAmount != nil && *req.MinAmount < 0 {
		return nil, apperr.Invalid("minAmount", "must not be negative")
	}
	p := &models.AlertProfile{
		UserID:            userID,
		Regions:           cleanFacet(req.Regions),
		HeritageTypes:     cleanFacet(req.HeritageTypes),
		OrganizationTypes: cleanFacet(req.OrganizationTypes),
		MinAmount:         req.MinAmount,
		EmailEnabled:      req.EmailEnabled == nil || *req.EmailEnabled,
		InAppEnabled:      req.InAppEnabled == nil || *req.InAppEnabled,
		Frequency:         req.Frequency,
	}
	if err := m.Profiles.UpsertAlertProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Matcher) DeleteProfile(ctx context.Context, userID uuid.UUID) error {
	return m.Profiles.DeleteAlertProfile(ctx, userID)
}

func cleanFacet(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
