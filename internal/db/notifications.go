package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david/grant-tracker/internal/models"
)

var notificationColumns = []string{
	"id", "user_id", "grant_id", "application_id", "type", "title", "message", "read", "read_at", "created_at",
}

func scanNotification(row pgx.Row) (models.Notification, error) {
	var n models.Notification
	err := row.Scan(&n.ID, &n.UserID, &n.GrantID, &n.ApplicationID, &n.Type, &n.Title, &n.Message,
		&n.Read, &n.ReadAt, &n.CreatedAt)
	return n, err
}

func prepareNotification(n *models.Notification) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
}

func notificationInsert(n *models.Notification) sq.InsertBuilder {
	return psql.Insert("notifications").
		Columns("id", "user_id", "grant_id", "application_id", "type", "title", "message", "created_at").
		Values(n.ID, n.UserID, n.GrantID, n.ApplicationID, n.Type, n.Title, n.Message, n.CreatedAt)
}

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	prepareNotification(n)
	sqlStr, args, err := notificationInsert(n).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return mapError(err, "notification")
	}
	return nil
}

// CreateNotificationOnce inserts n unless one already exists for the same
// (user, grant, type). The partial unique index makes this race-safe.
func (s *Store) CreateNotificationOnce(ctx context.Context, n *models.Notification) (bool, error) {
	prepareNotification(n)
	sqlStr, args, err := notificationInsert(n).
		Suffix("ON CONFLICT (user_id, grant_id, type) WHERE grant_id IS NOT NULL DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, mapError(err, "notification")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, f models.NotificationFilter) ([]models.Notification, error) {
	where := sq.And{sq.Eq{"user_id": userID}}
	if f.UnreadOnly {
		where = append(where, sq.Eq{"read": false})
	}
	if f.Type != "" {
		where = append(where, sq.Eq{"type": f.Type})
	}
	if f.Since != nil {
		where = append(where, sq.GtOrEq{"created_at": *f.Since})
	}
	qb := psql.Select(notificationColumns...).From("notifications").Where(where).OrderBy("created_at DESC", "id")
	if f.Limit > 0 {
		qb = qb.Limit(uint64(f.Limit))
	}
	sqlStr, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationsRead marks the given unread notifications of userID as read.
// Ids belonging to other users are ignored.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE notifications SET read = TRUE, read_at = $3 WHERE user_id = $1 AND id = ANY($2) AND NOT read",
		userID, ids, at)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"UPDATE notifications SET read = TRUE, read_at = $2 WHERE user_id = $1 AND NOT read",
		userID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT read", userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
