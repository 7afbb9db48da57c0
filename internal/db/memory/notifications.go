package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/models"
)

func (s *Store) prepareNotification(n *models.Notification) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
}

func (s *Store) CreateNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepareNotification(n)
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *Store) CreateNotificationOnce(_ context.Context, n *models.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.GrantID != nil {
		for _, existing := range s.notifications {
			if existing.UserID == n.UserID && existing.Type == n.Type &&
				existing.GrantID != nil && *existing.GrantID == *n.GrantID {
				return false, nil
			}
		}
	}
	s.prepareNotification(n)
	s.notifications = append(s.notifications, *n)
	return true, nil
}

func (s *Store) ListNotifications(_ context.Context, userID uuid.UUID, f models.NotificationFilter) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Notification{}
	for _, n := range s.notifications {
		if n.UserID != userID || (f.UnreadOnly && n.Read) || (f.Type != "" && n.Type != f.Type) {
			continue
		}
		if f.Since != nil && n.CreatedAt.Before(*f.Since) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) MarkNotificationsRead(_ context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return s.markRead(userID, at, func(n *models.Notification) bool { return want[n.ID] }), nil
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markRead(userID, at, func(*models.Notification) bool { return true }), nil
}

func (s *Store) markRead(userID uuid.UUID, at time.Time, match func(*models.Notification) bool) int64 {
	var n int64
	for i := range s.notifications {
		item := &s.notifications[i]
		if item.UserID != userID || item.Read || !match(item) {
			continue
		}
		item.Read = true
		t := at
		item.ReadAt = &t
		n++
	}
	return n
}

func (s *Store) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.notifications {
		if item.UserID == userID && !item.Read {
			n++
		}
	}
	return n, nil
}
