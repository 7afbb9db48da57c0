// Package scheduler owns per-user automatic sync configuration and its cron-driven execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

const maxSearchTerms = 10

type ConfigStore interface {
	GetSyncConfig(ctx context.Context, userID uuid.UUID) (*models.SyncConfig, error)
	UpsertSyncConfig(ctx context.Context, c *models.SyncConfig) error
	ListDueSyncConfigs(ctx context.Context, now time.Time) ([]models.SyncConfig, error)
	MarkSynced(ctx context.Context, userID uuid.UUID, last time.Time, next *time.Time) error
	DisableSyncConfig(ctx context.Context, userID uuid.UUID) error
}

type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Interval is the fixed period for each frequency.
func Interval(f models.SyncFrequency) (time.Duration, error) {
	switch f {
	case models.SyncHourly:
		return time.Hour, nil
	case models.SyncDaily:
		return 24 * time.Hour, nil
	case models.SyncWeekly:
		return 7 * 24 * time.Hour, nil
	}
	return 0, apperr.Invalid("frequency", "must be one of hourly, daily, weekly")
}

// NextSync is now+interval for enabled configs and nil otherwise.
func NextSync(enabled bool, f models.SyncFrequency, now time.Time) (*time.Time, error) {
	if !enabled {
		return nil, nil
	}
	d, err := Interval(f)
	if err != nil {
		return nil, err
	}
	next := now.Add(d)
	return &next, nil
}

// Policy decides which subscriptions may use automatic sync.
type Policy struct {
	EligiblePlans []string
}

var activeStatuses = map[string]bool{"active": true, "trialing": true}

func (p Policy) Eligible(u *models.User) bool {
	if u == nil || !activeStatuses[strings.ToLower(u.SubscriptionStatus)] {
		return false
	}
	for _, plan := range p.EligiblePlans {
		if strings.EqualFold(plan, u.Plan) {
			return true
		}
	}
	return false
}

// Service reads and writes sync configurations.
type Service struct {
	Store  ConfigStore
	Users  UserLookup
	Policy Policy
	Now    func() time.Time
}

func NewService(store ConfigStore, users UserLookup, policy Policy) *Service {
	return &Service{Store: store, Users: users, Policy: policy, Now: func() time.Time { return time.Now().UTC() }}
}

type View struct {
	CanUseAutoSync bool               `json:"canUseAutoSync"`
	CurrentPlan    string             `json:"currentPlan"`
	Config         *models.SyncConfig `json:"config"`
}

func (s *Service) Get(ctx context.Context, userID uuid.UUID) (View, error) {
	u, err := s.Users.GetUser(ctx, userID)
	if err != nil {
		return View{}, fmt.Errorf("lookup user: %w", err)
	}
	v := View{CanUseAutoSync: s.Policy.Eligible(u), CurrentPlan: u.Plan}

	cfg, err := s.Store.GetSyncConfig(ctx, userID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
	case err != nil:
		return View{}, err
	default:
		v.Config = cfg
	}
	return v, nil
}

type SaveRequest struct {
	Enabled     bool                 `json:"enabled"`
	Frequency   models.SyncFrequency `json:"frequency"`
	SearchTerms []string             `json:"searchTerms"`
	AutoImport  *bool                `json:"autoImport"`
	NotifyNew   *bool                `json:"notifyNew"`
}

// Save upserts the user's config. Enabling on an ineligible plan fails with *apperr.TierError.
// next_sync is recomputed from now on every save.
func (s *Service) Save(ctx context.Context, userID uuid.UUID, req SaveRequest) (*models.SyncConfig, error) {
	if req.Frequency == "" {
		req.Frequency = models.SyncDaily
	}
	if _, err := Interval(req.Frequency); err != nil {
		return nil, err
	}
	terms := cleanTerms(req.SearchTerms)
	if len(terms) > maxSearchTerms {
		return nil, apperr.Invalid("searchTerms", fmt.Sprintf("at most %d terms", maxSearchTerms))
	}
	if req.Enabled && len(terms) == 0 {
		return nil, apperr.Invalid("searchTerms", "at least one term is required to enable sync")
	}

	if req.Enabled {
		u, err := s.Users.GetUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		if !s.Policy.Eligible(u) {
			return nil, &apperr.TierError{Feature: "automatic sync", Plan: u.Plan, Required: s.Policy.EligiblePlans}
		}
	}

	next, err := NextSync(req.Enabled, req.Frequency, s.Now())
	if err != nil {
		return nil, err
	}
	cfg := &models.SyncConfig{
		UserID:      userID,
		Enabled:     req.Enabled,
		Frequency:   req.Frequency,
		SearchTerms: terms,
		AutoImport:  boolOr(req.AutoImport, true),
		NotifyNew:   boolOr(req.NotifyNew, true),
		NextSync:    next,
	}
	if err := s.Store.UpsertSyncConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func cleanTerms(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range in {
		t = strings.Join(strings.Fields(t), " ")
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
