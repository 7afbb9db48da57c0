package scheduler

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
	"github.com/david/grant-tracker/internal/ingest"
	"github.com/david/grant-tracker/internal/models"
)

var t0 = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

func newService(store *memory.Store) *Service {
	s := NewService(store, store, Policy{EligiblePlans: []string{models.PlanPremium}})
	s.Now = func() time.Time { return t0 }
	return s
}

func putUser(store *memory.Store, plan string) uuid.UUID {
	id := uuid.New()
	store.PutUser(models.User{ID: id, Email: id.String() + "@example.org", Plan: plan, SubscriptionStatus: "active"})
	return id
}

func TestInterval(t *testing.T) {
	cases := map[models.SyncFrequency]time.Duration{
		models.SyncHourly: time.Hour,
		models.SyncDaily:  24 * time.Hour,
		models.SyncWeekly: 7 * 24 * time.Hour,
	}
	for f, want := range cases {
		got, err := Interval(f)
		require.NoError(t, err)
		assert.Equal(t, want, got, f)
	}
	_, err := Interval("monthly")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPolicy_Eligible(t *testing.T) {
	p := Policy{EligiblePlans: []string{"premium"}}
	assert.True(t, p.Eligible(&models.User{Plan: "premium", SubscriptionStatus: "active"}))
	assert.True(t, p.Eligible(&models.User{Plan: "Premium", SubscriptionStatus: "trialing"}))
	assert.False(t, p.Eligible(&models.User{Plan: "pro", SubscriptionStatus: "active"}))
	assert.False(t, p.Eligible(&models.User{Plan: "premium", SubscriptionStatus: "canceled"}))
	assert.False(t, p.Eligible(nil))
}

func TestSave_DailyNextSyncIsExactlyOneDayLater(t *testing.T) {
	store := memory.New()
	user := putUser(store, models.PlanPremium)
	svc := newService(store)

	cfg, err := svc.Save(context.Background(), user, SaveRequest{
		Enabled: true, Frequency: models.SyncDaily, SearchTerms: []string{"patrimonio"},
	})
	require.NoError(t, err)
	require.NotNil(t, cfg.NextSync)
	assert.Equal(t, t0.Add(24*time.Hour), *cfg.NextSync)
	assert.True(t, cfg.AutoImport)
	assert.True(t, cfg.NotifyNew)
}

func TestSave_RecomputesFromNowOnEverySave(t *testing.T) {
	store := memory.New()
	user := putUser(store, models.PlanPremium)
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.Save(ctx, user, SaveRequest{Enabled: true, Frequency: models.SyncWeekly, SearchTerms: []string{"a"}})
	require.NoError(t, err)

	later := t0.Add(3 * time.Hour)
	svc.Now = func() time.Time { return later }
	cfg, err := svc.Save(ctx, user, SaveRequest{Enabled: true, Frequency: models.SyncHourly, SearchTerms: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, later.Add(time.Hour), *cfg.NextSync)
}

func TestSave_DisabledClearsNextSync(t *testing.T) {
	store := memory.New()
	user := putUser(store, models.PlanFree)
	svc := newService(store)

	cfg, err := svc.Save(context.Background(), user, SaveRequest{Enabled: false, Frequency: models.SyncDaily})
	require.NoError(t, err)
	assert.Nil(t, cfg.NextSync)
	assert.False(t, cfg.Enabled)
}

func TestSave_LowerTierCannotEnable(t *testing.T) {
	store := memory.New()
	user := putUser(store, models.PlanPro)
	svc := newService(store)

	_, err := svc.Save(context.Background(), user, SaveRequest{Enabled: true, Frequency: models.SyncDaily, SearchTerms: []string{"x"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTierRequired)

	var tier *apperr.TierError
	require.True(t, errors.As(err, &tier))
	assert.Equal(t, models.PlanPro, tier.Plan)

	_, err = store.GetSyncConfig(context.Background(), user)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSave_Validation(t *testing.T) {
	store := memory.New()
	user := putUser(store, models.PlanPremium)
	svc := newService(store)
	ctx := context.Background()

	_, err := svc.Save(ctx, user, SaveRequest{Enabled: true, Frequency: models.SyncDaily, SearchTerms: []string{"  ", ""}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Save(ctx, user, SaveRequest{Enabled: true, Frequency: "yearly", SearchTerms: []string{"x"}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGet(t *testing.T) {
	store := memory.New()
	user := putUser(store, models.PlanPremium)
	svc := newService(store)
	ctx := context.Background()

	v, err := svc.Get(ctx, user)
	require.NoError(t, err)
	assert.True(t, v.CanUseAutoSync)
	assert.Equal(t, models.PlanPremium, v.CurrentPlan)
	assert.Nil(t, v.Config)

	_, err = svc.Save(ctx, user, SaveRequest{Enabled: true, SearchTerms: []string{"ermitas", "Ermitas"}})
	require.NoError(t, err)
	v, err = svc.Get(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, v.Config)
	assert.Equal(t, []string{"ermitas"}, v.Config.SearchTerms)
	assert.Equal(t, models.SyncDaily, v.Config.Frequency)
}

type fakeSyncer struct {
	mu       sync.Mutex
	terms    []string
	probes   []string
	newByRun []models.Grant
	total    int
}

func (f *fakeSyncer) Sync(_ context.Context, req ingest.Request) (ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terms = append(f.terms, req.SearchTerm)
	return ingest.Result{Outcome: models.OutcomeImported, Imported: len(f.newByRun), NewGrants: f.newByRun}, nil
}

func (f *fakeSyncer) Probe(_ context.Context, term string, _ int) (ingest.Preview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, term)
	return ingest.Preview{Total: f.total}, nil
}

type fakeAlerts struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func (f *fakeAlerts) EvaluateUser(_ context.Context, userID uuid.UUID, grants []models.Grant) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[uuid.UUID]int{}
	}
	f.calls[userID] += len(grants)
	return len(grants), nil
}

func newRunner(store *memory.Store, syncer Syncer, alerts AlertEvaluator) *Runner {
	r := NewRunner(store, store, Policy{EligiblePlans: []string{models.PlanPremium}}, syncer, store, alerts, 2)
	r.Now = func() time.Time { return t0.Add(25 * time.Hour) }
	return r
}

func TestRunDue_ImportsAndReschedules(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()
	user := putUser(store, models.PlanPremium)
	_, err := svc.Save(ctx, user, SaveRequest{Enabled: true, Frequency: models.SyncDaily, SearchTerms: []string{"iglesias", "castillos"}})
	require.NoError(t, err)

	syncer := &fakeSyncer{newByRun: []models.Grant{{ID: uuid.New(), Name: "Nueva"}}}
	alerts := &fakeAlerts{}
	r := newRunner(store, syncer, alerts)

	n, err := r.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"iglesias", "castillos"}, syncer.terms)
	assert.Equal(t, 2, alerts.calls[user])

	cfg, err := store.GetSyncConfig(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastSync)
	assert.Equal(t, r.Now(), *cfg.LastSync)
	assert.Equal(t, r.Now().Add(24*time.Hour), *cfg.NextSync)

	n, err = r.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type blockingSyncer struct {
	fakeSyncer
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSyncer) Sync(ctx context.Context, req ingest.Request) (ingest.Result, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeSyncer.Sync(ctx, req)
}

func TestRunDue_RejectsOverlappingRun(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()
	user := putUser(store, models.PlanPremium)
	_, err := svc.Save(ctx, user, SaveRequest{Enabled: true, Frequency: models.SyncDaily, SearchTerms: []string{"ermitas"}})
	require.NoError(t, err)

	syncer := &blockingSyncer{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := newRunner(store, syncer, nil)

	done := make(chan error, 1)
	go func() {
		_, err := r.RunDue(ctx)
		done <- err
	}()
	<-syncer.entered

	n, err := r.RunDue(ctx)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Zero(t, n)

	close(syncer.release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"ermitas"}, syncer.terms)

	// The guard is released once the first run returns.
	n, err = r.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunDue_NotYetDue(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()
	user := putUser(store, models.PlanPremium)
	_, err := svc.Save(ctx, user, SaveRequest{Enabled: true, Frequency: models.SyncWeekly, SearchTerms: []string{"x"}})
	require.NoError(t, err)

	syncer := &fakeSyncer{}
	n, err := newRunner(store, syncer, nil).RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, syncer.terms)
}

func TestRunDue_PreviewWhenAutoImportOff(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()
	user := putUser(store, models.PlanPremium)
	off := false
	_, err := svc.Save(ctx, user, SaveRequest{Enabled: true, SearchTerms: []string{"murallas"}, AutoImport: &off})
	require.NoError(t, err)

	syncer := &fakeSyncer{total: 7}
	_, err = newRunner(store, syncer, nil).RunDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, syncer.terms)
	assert.Equal(t, []string{"murallas"}, syncer.probes)

	notes, err := store.ListNotifications(ctx, user, models.NotificationFilter{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationSyncPreview, notes[0].Type)
	assert.Contains(t, notes[0].Title, "7")
}

func TestRunDue_DowngradedUserIsDisabled(t *testing.T) {
	store := memory.New()
	svc := newService(store)
	ctx := context.Background()
	user := putUser(store, models.PlanPremium)
	_, err := svc.Save(ctx, user, SaveRequest{Enabled: true, SearchTerms: []string{"x"}})
	require.NoError(t, err)

	store.PutUser(models.User{ID: user, Plan: models.PlanFree, SubscriptionStatus: "active"})

	syncer := &fakeSyncer{}
	_, err = newRunner(store, syncer, nil).RunDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, syncer.terms)

	cfg, err := store.GetSyncConfig(ctx, user)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Nil(t, cfg.NextSync)
}

func TestSchedule_RejectsBadSpec(t *testing.T) {
	r := newRunner(memory.New(), &fakeSyncer{}, nil)
	err := r.Schedule("not a spec", "bad", func(context.Context) error { return nil })
	assert.Error(t, err)
	require.NoError(t, r.Schedule("@every 1m", "sync", func(context.Context) error { return nil }))
}
