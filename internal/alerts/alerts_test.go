package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/db/memory"
	"github.com/david/grant-tracker/internal/models"
	"github.com/david/grant-tracker/internal/notify"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Email
	err  error
}

func (r *recordingSender) Send(_ context.Context, e notify.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, e)
	return nil
}

func grant(region, orgType string, heritage []string, maxAmount *float64) models.Grant {
	return models.Grant{
		ID:             uuid.New(),
		Name:           "Restauración " + region,
		Organization:   models.Organization{Name: "Consejería", Type: orgType},
		Geography:      models.Geography{Region: region},
		Classification: models.Classification{HeritageTypes: heritage},
		Funding:        models.Funding{MaxAmount: maxAmount},
		Status:         models.GrantActive,
	}
}

func TestMatch(t *testing.T) {
	g := grant("galicia", "autonomica", []string{"religioso", "arqueologico"}, models.Float64Ptr(500))

	tests := []struct {
		name    string
		profile models.AlertProfile
		want    bool
	}{
		{"empty profile matches anything", models.AlertProfile{}, true},
		{"region hit", models.AlertProfile{Regions: []string{"Galicia", "asturias"}}, true},
		{"region miss", models.AlertProfile{Regions: []string{"asturias"}}, false},
		{"heritage intersects", models.AlertProfile{HeritageTypes: []string{"arqueologico"}}, true},
		{"heritage disjoint", models.AlertProfile{HeritageTypes: []string{"industrial"}}, false},
		{"org type hit", models.AlertProfile{OrganizationTypes: []string{"autonomica"}}, true},
		{"org type miss", models.AlertProfile{OrganizationTypes: []string{"local"}}, false},
		{"min amount below max", models.AlertProfile{MinAmount: models.Float64Ptr(500)}, true},
		{"min amount above max", models.AlertProfile{MinAmount: models.Float64Ptr(1000)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(&tt.profile, &g))
		})
	}

	unbounded := grant("galicia", "autonomica", nil, nil)
	assert.True(t, Match(&models.AlertProfile{MinAmount: models.Float64Ptr(1e6)}, &unbounded))
}

type fixture struct {
	store   *memory.Store
	mail    *recordingSender
	matcher *Matcher
	user    uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	user := uuid.New()
	store.PutUser(models.User{ID: user, Email: "ana@example.org", Plan: models.PlanPremium, SubscriptionStatus: "active"})
	mail := &recordingSender{}
	return fixture{store: store, mail: mail, matcher: NewMatcher(store, store, store, store, mail), user: user}
}

func TestEvaluateUser_NoDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.matcher.SaveProfile(ctx, f.user, SaveRequest{Regions: []string{"galicia"}})
	require.NoError(t, err)

	grants := []models.Grant{
		grant("galicia", "autonomica", nil, nil),
		grant("asturias", "autonomica", nil, nil),
	}
	n, err := f.matcher.EvaluateUser(ctx, f.user, grants)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.matcher.EvaluateUser(ctx, f.user, grants)
	require.NoError(t, err)
	assert.Zero(t, n)

	notes, err := f.store.ListNotifications(ctx, f.user, models.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationGrantMatch, notes[0].Type)
	assert.Equal(t, grants[0].ID, *notes[0].GrantID)

	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, []string{"ana@example.org"}, f.mail.sent[0].To)
}

func TestEvaluateUser_NoProfile(t *testing.T) {
	f := newFixture(t)
	n, err := f.matcher.EvaluateUser(context.Background(), f.user, []models.Grant{grant("galicia", "", nil, nil)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEvaluateGrants_ConcurrentRunsNotifyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.matcher.SaveProfile(ctx, f.user, SaveRequest{})
	require.NoError(t, err)
	grants := []models.Grant{grant("galicia", "", nil, nil)}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.matcher.EvaluateGrants(ctx, grants)
		}()
	}
	wg.Wait()

	count, err := f.store.CountUnread(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEvaluate_EmailFailureKeepsNotification(t *testing.T) {
	f := newFixture(t)
	f.mail.err = errors.New("relay down")
	ctx := context.Background()
	_, err := f.matcher.SaveProfile(ctx, f.user, SaveRequest{})
	require.NoError(t, err)

	n, err := f.matcher.EvaluateUser(ctx, f.user, []models.Grant{grant("galicia", "", nil, nil)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEvaluate_DigestProfileGetsNoImmediateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.matcher.SaveProfile(ctx, f.user, SaveRequest{Frequency: models.AlertDigest})
	require.NoError(t, err)

	_, err = f.matcher.EvaluateUser(ctx, f.user, []models.Grant{grant("galicia", "", nil, nil)})
	require.NoError(t, err)
	assert.Empty(t, f.mail.sent)

	sent, err := f.matcher.Digest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, f.mail.sent, 1)
	assert.Contains(t, f.mail.sent[0].Subject, "1")
}

func TestCheckNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, g := range []models.Grant{
		grant("galicia", "", []string{"religioso"}, nil),
		grant("galicia", "", []string{"civil"}, nil),
	} {
		g := g
		require.NoError(t, f.store.CreateGrant(ctx, &g))
	}
	_, err := f.matcher.SaveProfile(ctx, f.user, SaveRequest{HeritageTypes: []string{"Religioso"}})
	require.NoError(t, err)

	n, err := f.matcher.CheckNow(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.matcher.CheckNow(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSaveProfile_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.matcher.SaveProfile(ctx, f.user, SaveRequest{Frequency: "weekly"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.matcher.SaveProfile(ctx, f.user, SaveRequest{MinAmount: models.Float64Ptr(-1)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestProfileLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.matcher.GetProfile(ctx, f.user)
	require.NoError(t, err)
	assert.Nil(t, p)

	saved, err := f.matcher.SaveProfile(ctx, f.user, SaveRequest{Regions: []string{" Galicia ", "galicia"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"galicia"}, saved.Regions)
	assert.True(t, saved.EmailEnabled)

	require.NoError(t, f.matcher.DeleteProfile(ctx, f.user))
	assert.ErrorIs(t, f.matcher.DeleteProfile(ctx, f.user), apperr.ErrNotFound)
}

func TestDigest_IgnoresOldAndReadNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 5, 5, 8, 0, 0, 0, time.UTC)
	f.matcher.Now = func() time.Time { return now }
	_, err := f.matcher.SaveProfile(ctx, f.user, SaveRequest{Frequency: models.AlertDigest})
	require.NoError(t, err)

	gid := uuid.New()
	_, err = f.store.CreateNotificationOnce(ctx, &models.Notification{
		UserID: f.user, GrantID: &gid, Type: models.NotificationGrantMatch, Title: "old",
		CreatedAt: now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	sent, err := f.matcher.Digest(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}
