package models

import (
	"time"

	"github.com/google/uuid"
)

type Favorite struct {
	UserID    uuid.UUID `json:"user_id"`
	GrantID   uuid.UUID `json:"grant_id"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Grant     *Grant    `json:"grant,omitempty"`
}

// FavoriteState is the membership of one (user, grant) pair.
type FavoriteState bool

const (
	FavoriteAbsent  FavoriteState = false
	FavoritePresent FavoriteState = true
)

// Toggle returns the state after a toggle request.
func (s FavoriteState) Toggle() FavoriteState {
	return !s
}

func (s FavoriteState) String() string {
	if s {
		return "present"
	}
	return "absent"
}
