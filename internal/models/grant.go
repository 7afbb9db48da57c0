package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/apperr"
)

type GrantStatus string

const (
	GrantActive GrantStatus = "active"
	GrantClosed GrantStatus = "closed"
	GrantDraft  GrantStatus = "draft"
)

func (s GrantStatus) Valid() bool {
	switch s {
	case GrantActive, GrantClosed, GrantDraft:
		return true
	}
	return false
}

// RegionNational marks grants that apply regardless of the requested region.
const RegionNational = "nacional"

// HeritageGeneral is the bucket for grants with no recognised heritage type.
const HeritageGeneral = "general"

const (
	SourceManual = "manual"
	SourceBDNS   = "bdns"
)

type Organization struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Geography struct {
	Region       string `json:"region"`
	Province     string `json:"province,omitempty"`
	Municipality string `json:"municipality,omitempty"`
}

type Classification struct {
	HeritageTypes         []string `json:"heritage_types"`
	ProtectionLevels      []string `json:"protection_levels"`
	EligibleBeneficiaries []string `json:"eligible_beneficiaries"`
}

type Funding struct {
	MinAmount         *float64 `json:"min_amount"`
	MaxAmount         *float64 `json:"max_amount"`
	FundingPercentage *float64 `json:"funding_percentage"`
}

type Timeline struct {
	CallOpen          *time.Time `json:"call_open"`
	CallClose         *time.Time `json:"call_close"`
	ResolutionDate    *time.Time `json:"resolution_date"`
	ExecutionDeadline *time.Time `json:"execution_deadline"`
}

type Links struct {
	OfficialURL    string `json:"official_url"`
	BasesURL       string `json:"bases_url,omitempty"`
	ApplicationURL string `json:"application_url,omitempty"`
}

// Grant is a public funding opportunity.
type Grant struct {
	ID                uuid.UUID      `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Organization      Organization   `json:"organization"`
	Geography         Geography      `json:"geography"`
	Classification    Classification `json:"classification"`
	Funding           Funding        `json:"funding"`
	Timeline          Timeline       `json:"timeline"`
	Status            GrantStatus    `json:"status"`
	Year              *int           `json:"year"`
	Links             Links          `json:"links"`
	RequiredDocuments []string       `json:"required_documents"`
	Tags              []string       `json:"tags"`
	Source            string         `json:"source"`
	ExternalID        string         `json:"external_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Validate checks the invariants every stored grant must satisfy.
func (g *Grant) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return apperr.Invalid("name", "is required")
	}
	if g.Status != "" && !g.Status.Valid() {
		return apperr.Invalid("status", "must be one of active, closed, draft")
	}
	t := g.Timeline
	if t.CallOpen != nil && t.CallClose != nil && t.CallClose.Before(*t.CallOpen) {
		return apperr.Invalid("timeline.call_close", "must not be before call_open")
	}
	f := g.Funding
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return apperr.Invalid("funding.min_amount", "must not exceed max_amount")
	}
	if f.FundingPercentage != nil && (*f.FundingPercentage < 0 || *f.FundingPercentage > 100) {
		return apperr.Invalid("funding.funding_percentage", "must be between 0 and 100")
	}
	return nil
}

// HasHeritageType reports set membership, case-insensitively.
func (g *Grant) HasHeritageType(t string) bool {
	for _, h := range g.Classification.HeritageTypes {
		if strings.EqualFold(h, t) {
			return true
		}
	}
	return false
}

func Float64Ptr(v float64) *float64 { return &v }

func TimePtr(t time.Time) *time.Time { return &t }

func IntPtr(v int) *int { return &v }
