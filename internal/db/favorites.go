package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

// ToggleFavorite flips membership of (userID, grantID) and returns the resulting state.
func (s *Store) ToggleFavorite(ctx context.Context, userID, grantID uuid.UUID, notes string) (models.FavoriteState, error) {
	state := models.FavoriteAbsent
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", userID.String()+grantID.String()); err != nil {
			return fmt.Errorf("lock favorite: %w", err)
		}

		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM grants WHERE id = $1)", grantID).Scan(&exists); err != nil {
			return fmt.Errorf("check grant: %w", err)
		}
		if !exists {
			return apperr.NotFound("grant", grantID)
		}

		tag, err := tx.Exec(ctx, "DELETE FROM favorites WHERE user_id = $1 AND grant_id = $2", userID, grantID)
		if err != nil {
			return fmt.Errorf("remove favorite: %w", err)
		}
		current := models.FavoriteState(tag.RowsAffected() > 0)
		if current == models.FavoritePresent {
			state = current.Toggle()
			return nil
		}

		if _, err := tx.Exec(ctx,
			"INSERT INTO favorites (user_id, grant_id, notes) VALUES ($1, $2, $3)",
			userID, grantID, notes); err != nil {
			return mapError(err, "favorite")
		}
		state = current.Toggle()
		return nil
	})
	return state, err
}

// ListFavorites returns the user's favorites with their grants, newest first.
func (s *Store) ListFavorites(ctx context.Context, userID uuid.UUID) ([]models.Favorite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.notes, f.created_at, `+strings.Join(grantCols("g"), ", ")+`
		FROM favorites f JOIN grants g ON g.id = f.grant_id
		WHERE f.user_id = $1
		ORDER BY f.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	favorites := []models.Favorite{}
	for rows.Next() {
		f := models.Favorite{UserID: userID}
		g, err := scanGrant(rows, &f.Notes, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		f.GrantID = g.ID
		f.Grant = &g
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}
