package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncFrequency string

const (
	SyncHourly SyncFrequency = "hourly"
	SyncDaily  SyncFrequency = "daily"
	SyncWeekly SyncFrequency = "weekly"
)

// SyncConfig is the per-user automatic sync configuration.
// NextSync is nil iff Enabled is false.
type SyncConfig struct {
	UserID      uuid.UUID     `json:"user_id"`
	Enabled     bool          `json:"enabled"`
	Frequency   SyncFrequency `json:"frequency"`
	SearchTerms []string      `json:"search_terms"`
	AutoImport  bool          `json:"auto_import"`
	NotifyNew   bool          `json:"notify_new"`
	LastSync    *time.Time    `json:"last_sync"`
	NextSync    *time.Time    `json:"next_sync"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type SyncOutcome string

const (
	OutcomeImported    SyncOutcome = "imported"
	OutcomeNoResults   SyncOutcome = "no_results"
	OutcomeUnavailable SyncOutcome = "unavailable"
	OutcomeNeedsToken  SyncOutcome = "needs_token"
	OutcomeCanceled    SyncOutcome = "canceled"
)

// SyncRun is one row of the sync ledger.
type SyncRun struct {
	ID         uuid.UUID   `json:"id"`
	UserID     *uuid.UUID  `json:"user_id"`
	SearchTerm string      `json:"search_term"`
	Trigger    string      `json:"trigger"`
	Outcome    SyncOutcome `json:"outcome"`
	Total      int         `json:"total"`
	Imported   int         `json:"imported"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Errors     []string    `json:"errors,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}
