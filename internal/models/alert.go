package models

import (
	"time"

	"github.com/google/uuid"
)

type AlertFrequency string

const (
	AlertImmediate AlertFrequency = "immediate"
	AlertDigest    AlertFrequency = "digest"
)

// AlertProfile holds a user's saved matching criteria. Empty facets match anything.
type AlertProfile struct {
	UserID            uuid.UUID      `json:"user_id"`
	Regions           []string       `json:"regions"`
	HeritageTypes     []string       `json:"heritage_types"`
	OrganizationTypes []string       `json:"organization_types"`
	MinAmount         *float64       `json:"min_amount"`
	EmailEnabled      bool           `json:"email_enabled"`
	InAppEnabled      bool           `json:"in_app_enabled"`
	Frequency         AlertFrequency `json:"frequency"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
