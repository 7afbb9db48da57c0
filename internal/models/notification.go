package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	NotificationGrantMatch  = "grant_match"
	NotificationSyncPreview = "sync_preview"
	NotificationSyncResult  = "sync_result"
)

type Notification struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	GrantID       *uuid.UUID `json:"grant_id"`
	ApplicationID *uuid.UUID `json:"application_id"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	Read          bool       `json:"read"`
	ReadAt        *time.Time `json:"read_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Type       string
	Since      *time.Time
}
