package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/db/memory"
	"github.com/david/grant-tracker/internal/models"
)

type fixture struct {
	store *memory.Store
	svc   *Service
	user  uuid.UUID
	grant models.Grant
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	g := models.Grant{
		Name:              "Ayudas a la conservación de bienes inmuebles",
		Status:            models.GrantActive,
		RequiredDocuments: []string{"Memoria técnica", "Presupuesto", "Acreditación de titularidad"},
	}
	require.NoError(t, store.CreateGrant(context.Background(), &g))
	svc := NewService(store)
	svc.Now = func() time.Time { return time.Date(2025, 4, 2, 15, 4, 0, 0, time.UTC) }
	return fixture{store: store, svc: svc, user: uuid.New(), grant: g}
}

func statusPtr(s models.ApplicationStatus) *models.ApplicationStatus { return &s }

func TestToggleFavorite_TwiceRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := f.svc.ToggleFavorite(ctx, f.user, f.grant.ID, "revisar bases")
	require.NoError(t, err)
	assert.Equal(t, models.FavoritePresent, state)

	favs, err := f.svc.ListFavorites(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, "revisar bases", favs[0].Notes)
	require.NotNil(t, favs[0].Grant)

	state, err = f.svc.ToggleFavorite(ctx, f.user, f.grant.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.FavoriteAbsent, state)

	favs, err = f.svc.ListFavorites(ctx, f.user)
	require.NoError(t, err)
	assert.Empty(t, favs)
}

func TestToggleFavorite_Errors(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ToggleFavorite(context.Background(), f.user, uuid.Nil, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.ToggleFavorite(context.Background(), f.user, uuid.New(), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateApplication_SeedsChecklist(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.CreateApplication(context.Background(), f.user, CreateApplicationRequest{
		GrantID: f.grant.ID, RequestedAmount: models.Float64Ptr(12000),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AppDraft, a.Status)
	require.Len(t, a.Checklist, 3)
	assert.Equal(t, "doc-1", a.Checklist[0].ID)
	assert.Equal(t, "Memoria técnica", a.Checklist[0].Name)
	assert.False(t, a.Checklist[0].Completed)
}

func TestCreateApplication_SecondAttemptConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: f.grant.ID, Notes: "primera"})
	require.NoError(t, err)

	_, err = f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: f.grant.ID, Notes: "segunda"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	stored, err := f.store.GetApplication(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "primera", stored.Notes)
	assert.Equal(t, first.CreatedAt, stored.CreatedAt)
}

func TestCreateApplication_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	foreign := models.Project{ID: uuid.New(), UserID: uuid.New(), Name: "Ajeno"}
	f.store.PutProject(foreign)
	_, err = f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: f.grant.ID, ProjectID: &foreign.ID})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestChecklistIsNotAffectedByLaterGrantEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: f.grant.ID})
	require.NoError(t, err)

	f.grant.RequiredDocuments = append(f.grant.RequiredDocuments, "Nuevo anexo")

	stored, err := f.store.GetApplication(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Checklist, 3)
}

func TestUpdateApplication_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: f.grant.ID, Notes: "inicial"})
	require.NoError(t, err)

	updated, err := f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{Status: statusPtr(models.AppSubmitted)})
	require.NoError(t, err)
	assert.Equal(t, models.AppSubmitted, updated.Status)
	require.NotNil(t, updated.SubmissionDate)
	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), *updated.SubmissionDate)
	assert.Equal(t, "inicial", updated.Notes)

	_, err = f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{Status: statusPtr(models.AppApproved)})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	for _, next := range []models.ApplicationStatus{models.AppUnderReview, models.AppApproved, models.AppClosed} {
		_, err = f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{Status: statusPtr(next)})
		require.NoError(t, err, next)
	}

	_, err = f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{Status: statusPtr(models.AppDraft)})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUpdateApplication_PartialFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{
		GrantID: f.grant.ID, RequestedAmount: models.Float64Ptr(5000), Notes: "nota",
	})
	require.NoError(t, err)

	checklist := a.Checklist
	checklist[1].Completed = true
	updated, err := f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{Checklist: &checklist})
	require.NoError(t, err)
	assert.True(t, updated.Checklist[1].Completed)
	assert.Equal(t, "nota", updated.Notes)
	assert.Equal(t, 5000.0, *updated.RequestedAmount)
	assert.Equal(t, models.AppDraft, updated.Status)
}

func TestUpdateApplication_ClearsNullableFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := models.Project{ID: uuid.New(), UserID: f.user, Name: "Ermita"}
	f.store.PutProject(project)

	a, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{
		GrantID: f.grant.ID, ProjectID: &project.ID, RequestedAmount: models.Float64Ptr(5000),
	})
	require.NoError(t, err)
	require.NotNil(t, a.ProjectID)

	updated, err := f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{
		ProjectID:       models.Null[uuid.UUID](),
		RequestedAmount: models.Null[float64](),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.ProjectID)
	assert.Nil(t, updated.RequestedAmount)
	assert.Len(t, updated.Checklist, 3)

	_, err = f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{ApprovedAmount: models.Some(-1.0)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateApplication_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: f.grant.ID})
	require.NoError(t, err)

	_, err = f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.UpdateApplication(ctx, f.user, a.ID, models.ApplicationPatch{Status: statusPtr("archived")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	notes := "intruso"
	_, err = f.svc.UpdateApplication(ctx, uuid.New(), a.ID, models.ApplicationPatch{Notes: &notes})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.UpdateApplication(ctx, f.user, uuid.New(), models.ApplicationPatch{Notes: &notes})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: f.grant.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteApplication(ctx, uuid.New(), a.ID), apperr.ErrForbidden)
	require.NoError(t, f.svc.DeleteApplication(ctx, f.user, a.ID))
	assert.ErrorIs(t, f.svc.DeleteApplication(ctx, f.user, a.ID), apperr.ErrNotFound)
}

func TestListApplications_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	project := models.Project{ID: uuid.New(), UserID: f.user, Name: "Ermita"}
	f.store.PutProject(project)

	other := models.Grant{Name: "Otra convocatoria", Status: models.GrantActive}
	require.NoError(t, f.store.CreateGrant(ctx, &other))

	_, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: f.grant.ID, ProjectID: &project.ID})
	require.NoError(t, err)
	second, err := f.svc.CreateApplication(ctx, f.user, CreateApplicationRequest{GrantID: other.ID})
	require.NoError(t, err)
	_, err = f.svc.UpdateApplication(ctx, f.user, second.ID, models.ApplicationPatch{Status: statusPtr(models.AppSubmitted)})
	require.NoError(t, err)

	byProject, err := f.svc.ListApplications(ctx, f.user, models.ApplicationFilter{ProjectID: &project.ID})
	require.NoError(t, err)
	assert.Len(t, byProject, 1)

	submitted, err := f.svc.ListApplications(ctx, f.user, models.ApplicationFilter{Status: models.AppSubmitted})
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, second.ID, submitted[0].ID)

	_, err = f.svc.ListApplications(ctx, f.user, models.ApplicationFilter{Status: "bogus"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
