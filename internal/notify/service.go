// Package notify exposes the per-user notification log and outbound email delivery.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Store interface {
	ListNotifications(ctx context.Context, userID uuid.UUID, f models.NotificationFilter) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

type Service struct {
	Store Store
	Now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

type ListResult struct {
	Notifications []models.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unreadCount"`
}

// List returns the newest notifications plus the unread count, which is always queried.
func (s *Service) List(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int) (ListResult, error) {
	if limit < 0 {
		return ListResult{}, apperr.Invalid("limit", "must not be negative")
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	items, err := s.Store.ListNotifications(ctx, userID, models.NotificationFilter{UnreadOnly: unreadOnly, Limit: limit})
	if err != nil {
		return ListResult{}, err
	}
	unread, err := s.Store.CountUnread(ctx, userID)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []models.Notification{}
	}
	return ListResult{Notifications: items, UnreadCount: unread}, nil
}

// MarkRequest selects either an id set or every unread notification.
type MarkRequest struct {
	IDs []uuid.UUID `json:"notificationIds"`
	All bool        `json:"markAllRead"`
}

// MarkRead applies a MarkRequest and returns how many rows changed state.
func (s *Service) MarkRead(ctx context.Context, userID uuid.UUID, req MarkRequest) (int64, error) {
	now := s.Now()
	switch {
	case req.All:
		return s.Store.MarkAllNotificationsRead(ctx, userID, now)
	case len(req.IDs) > 0:
		return s.Store.MarkNotificationsRead(ctx, userID, req.IDs, now)
	}
	return 0, apperr.Invalid("notificationIds", "provide ids or markAllRead")
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.Store.CountUnread(ctx, userID)
}
