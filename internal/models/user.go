package models

import "github.com/google/uuid"

const (
	PlanFree    = "free"
	PlanPro     = "pro"
	PlanPremium = "premium"
)

// User is the subscription view of an account.
type User struct {
	ID                 uuid.UUID `json:"id"`
	Email              string    `json:"email"`
	Plan               string    `json:"plan"`
	SubscriptionStatus string    `json:"subscription_status"`
}

// Project is only consulted for ownership.
type Project struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
}
