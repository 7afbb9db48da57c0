package db

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

func newMock(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestMapError(t *testing.T) {
	assert.True(t, errors.Is(mapError(pgx.ErrNoRows, "grant"), apperr.ErrNotFound))
	assert.True(t, errors.Is(mapError(&pgconn.PgError{Code: "23505"}, "grant"), apperr.ErrConflict))
	assert.True(t, errors.Is(mapError(&pgconn.PgError{Code: "23503"}, "favorite"), apperr.ErrNotFound))
	assert.True(t, errors.Is(mapError(&pgconn.PgError{Code: "23514", ConstraintName: "grants_amount_band_check"}, "grant"), apperr.ErrValidation))
	assert.True(t, errors.Is(mapError(context.Canceled, "grant"), context.Canceled))
	assert.NoError(t, mapError(nil, "grant"))
}

func TestInsertGrantIfAbsent_SkipsExisting(t *testing.T) {
	store, mock := newMock(t)
	g := &models.Grant{Name: "Ayudas a la restauración", ExternalID: "812345"}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(g.Name).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT 1 FROM grants").WithArgs(anyArgs(3)...).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectCommit()

	inserted, err := store.InsertGrantIfAbsent(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertGrantIfAbsent_InsertsNew(t *testing.T) {
	store, mock := newMock(t)
	g := &models.Grant{Name: "Conservación de bienes muebles"}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(g.Name).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT 1 FROM grants").WithArgs(g.Name).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO grants").WithArgs(anyArgs(len(grantColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	inserted, err := store.InsertGrantIfAbsent(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEqual(t, uuid.Nil, g.ID)
	assert.Equal(t, models.GrantActive, g.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertGrantIfAbsent_ExternalIDRace(t *testing.T) {
	store, mock := newMock(t)
	g := &models.Grant{Name: "Nueva", ExternalID: "99"}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(g.Name).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT 1 FROM grants").WithArgs(anyArgs(3)...).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("ON CONFLICT").WithArgs(anyArgs(len(grantColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	inserted, err := store.InsertGrantIfAbsent(context.Background(), g)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestDeleteGrant_BlockedWhileReferenced(t *testing.T) {
	store, mock := newMock(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM favorites").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"referenced"}).AddRow(true))
	mock.ExpectRollback()

	err := store.DeleteGrant(context.Background(), id)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGrant_NotFound(t *testing.T) {
	store, mock := newMock(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM favorites").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"referenced"}).AddRow(false))
	mock.ExpectExec("DELETE FROM grants").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := store.DeleteGrant(context.Background(), id)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
}

func TestToggleFavorite(t *testing.T) {
	userID, grantID := uuid.New(), uuid.New()

	t.Run("adds when absent", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("pg_advisory_xact_lock").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery("FROM grants").WithArgs(grantID).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec("DELETE FROM favorites").WithArgs(userID, grantID).WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectExec("INSERT INTO favorites").WithArgs(userID, grantID, "ver bases").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		state, err := store.ToggleFavorite(context.Background(), userID, grantID, "ver bases")
		require.NoError(t, err)
		assert.Equal(t, models.FavoritePresent, state)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("removes when present", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("pg_advisory_xact_lock").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery("FROM grants").WithArgs(grantID).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec("DELETE FROM favorites").WithArgs(userID, grantID).WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mock.ExpectCommit()

		state, err := store.ToggleFavorite(context.Background(), userID, grantID, "")
		require.NoError(t, err)
		assert.Equal(t, models.FavoriteAbsent, state)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing grant", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("pg_advisory_xact_lock").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectQuery("FROM grants").WithArgs(grantID).WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		_, err := store.ToggleFavorite(context.Background(), userID, grantID, "")
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	})
}

func TestUpdateApplication_AllowList(t *testing.T) {
	store, mock := newMock(t)
	ctx := context.Background()

	_, err := store.UpdateApplication(ctx, uuid.New(), uuid.New(), models.AppDraft, map[string]any{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = store.UpdateApplication(ctx, uuid.New(), uuid.New(), models.AppDraft, map[string]any{"user_id": uuid.New()})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateApplication_ConcurrentChange(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("UPDATE applications SET").WithArgs(anyArgs(5)...).WillReturnError(pgx.ErrNoRows)

	_, err := store.UpdateApplication(context.Background(), uuid.New(), uuid.New(), models.AppDraft, map[string]any{"notes": "x"})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)
}

func TestCreateApplication_Duplicate(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("INSERT INTO applications").WithArgs(anyArgs(len(applicationColumns))...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "applications_user_grant_key"})

	err := store.CreateApplication(context.Background(), &models.Application{UserID: uuid.New(), GrantID: uuid.New()})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestCreateNotificationOnce(t *testing.T) {
	store, mock := newMock(t)
	grantID := uuid.New()
	n := &models.Notification{UserID: uuid.New(), GrantID: &grantID, Type: models.NotificationGrantMatch, Title: "t"}

	mock.ExpectExec("ON CONFLICT").WithArgs(anyArgs(8)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("ON CONFLICT").WithArgs(anyArgs(8)...).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := store.CreateNotificationOnce(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreateNotificationOnce(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationFilesEmbedded(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_init.sql", files[0])
}

func TestApplyMigrations_SkipsApplied(t *testing.T) {
	_, mock := newMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))

	require.NoError(t, ApplyMigrations(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrations_AppliesPendingInTransaction(t *testing.T) {
	_, mock := newMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS pgcrypto").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("001_init.sql").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, ApplyMigrations(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrations_FailedFileRollsBack(t *testing.T) {
	_, mock := newMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS pgcrypto").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := ApplyMigrations(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_init.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}
