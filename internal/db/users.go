package db

import (
	"context"

	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/models"
)

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		"SELECT id, email, plan, subscription_status FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Email, &u.Plan, &u.SubscriptionStatus)
	if err != nil {
		return nil, mapError(err, "user "+id.String())
	}
	return &u, nil
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx,
		"SELECT id, user_id, name FROM projects WHERE id = $1", id,
	).Scan(&p.ID, &p.UserID, &p.Name)
	if err != nil {
		return nil, mapError(err, "project "+id.String())
	}
	return &p, nil
}
