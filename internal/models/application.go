package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	AppDraft       ApplicationStatus = "draft"
	AppSubmitted   ApplicationStatus = "submitted"
	AppUnderReview ApplicationStatus = "under_review"
	AppApproved    ApplicationStatus = "approved"
	AppRejected    ApplicationStatus = "rejected"
	AppClosed      ApplicationStatus = "closed"
)

func (s ApplicationStatus) Valid() bool {
	switch s {
	case AppDraft, AppSubmitted, AppUnderReview, AppApproved, AppRejected, AppClosed:
		return true
	}
	return false
}

var applicationTransitions = map[ApplicationStatus][]ApplicationStatus{
	AppDraft:       {AppSubmitted, AppClosed},
	AppSubmitted:   {AppUnderReview, AppClosed},
	AppUnderReview: {AppApproved, AppRejected, AppClosed},
	AppApproved:    {AppClosed},
	AppRejected:    {AppClosed},
}

// CanTransition reports whether a status write from s to next is allowed.
// Writing the current status again is always allowed.
func (s ApplicationStatus) CanTransition(next ApplicationStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range applicationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type ChecklistItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
}

// SeedChecklist builds the initial checklist from a grant's required documents.
func SeedChecklist(requiredDocuments []string) []ChecklistItem {
	items := make([]ChecklistItem, 0, len(requiredDocuments))
	for i, doc := range requiredDocuments {
		items = append(items, ChecklistItem{
			ID:   fmt.Sprintf("doc-%d", i+1),
			Name: doc,
		})
	}
	return items
}

type Application struct {
	ID               uuid.UUID         `json:"id"`
	UserID           uuid.UUID         `json:"user_id"`
	GrantID          uuid.UUID         `json:"grant_id"`
	ProjectID        *uuid.UUID        `json:"project_id"`
	Status           ApplicationStatus `json:"status"`
	RequestedAmount  *float64          `json:"requested_amount"`
	ApprovedAmount   *float64          `json:"approved_amount"`
	SubmissionDate   *time.Time        `json:"submission_date"`
	ResolutionDate   *time.Time        `json:"resolution_date"`
	NotificationDate *time.Time        `json:"notification_date"`
	Documents        []string          `json:"documents"`
	Checklist        []ChecklistItem   `json:"checklist"`
	Notes            string            `json:"notes"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Grant            *Grant            `json:"grant,omitempty"`
}

// ApplicationPatch carries the optional fields of a partial update.
// A nil pointer or an unset Nullable is left unchanged; a Nullable set to null
// clears the column.
type ApplicationPatch struct {
	Status           *ApplicationStatus  `json:"status"`
	ProjectID        Nullable[uuid.UUID] `json:"projectId"`
	RequestedAmount  Nullable[float64]   `json:"requestedAmount"`
	ApprovedAmount   Nullable[float64]   `json:"approvedAmount"`
	SubmissionDate   Nullable[time.Time] `json:"submissionDate"`
	ResolutionDate   Nullable[time.Time] `json:"resolutionDate"`
	NotificationDate Nullable[time.Time] `json:"notificationDate"`
	Documents        *[]string           `json:"documents"`
	Checklist        *[]ChecklistItem    `json:"checklist"`
	Notes            *string             `json:"notes"`
}

// Fields returns the sparse column->value map for the supplied fields only.
// Keys are limited to the columns an application update may touch.
func (p ApplicationPatch) Fields() map[string]any {
	m := map[string]any{}
	if p.Status != nil {
		m["status"] = string(*p.Status)
	}
	if p.ProjectID.Set {
		m["project_id"] = p.ProjectID.Value
	}
	if p.RequestedAmount.Set {
		m["requested_amount"] = p.RequestedAmount.Value
	}
	if p.ApprovedAmount.Set {
		m["approved_amount"] = p.ApprovedAmount.Value
	}
	if p.SubmissionDate.Set {
		m["submission_date"] = p.SubmissionDate.Value
	}
	if p.ResolutionDate.Set {
		m["resolution_date"] = p.ResolutionDate.Value
	}
	if p.NotificationDate.Set {
		m["notification_date"] = p.NotificationDate.Value
	}
	if p.Documents != nil {
		m["documents"] = *p.Documents
	}
	if p.Checklist != nil {
		m["checklist"] = *p.Checklist
	}
	if p.Notes != nil {
		m["notes"] = *p.Notes
	}
	return m
}

// Apply copies the supplied fields onto a.
func (p ApplicationPatch) Apply(a *Application) {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.ProjectID.Set {
		a.ProjectID = p.ProjectID.clone()
	}
	if p.RequestedAmount.Set {
		a.RequestedAmount = p.RequestedAmount.clone()
	}
	if p.ApprovedAmount.Set {
		a.ApprovedAmount = p.ApprovedAmount.clone()
	}
	if p.SubmissionDate.Set {
		a.SubmissionDate = p.SubmissionDate.clone()
	}
	if p.ResolutionDate.Set {
		a.ResolutionDate = p.ResolutionDate.clone()
	}
	if p.NotificationDate.Set {
		a.NotificationDate = p.NotificationDate.clone()
	}
	if p.Documents != nil {
		a.Documents = append([]string(nil), (*p.Documents)...)
	}
	if p.Checklist != nil {
		a.Checklist = append([]ChecklistItem(nil), (*p.Checklist)...)
	}
	if p.Notes != nil {
		a.Notes = *p.Notes
	}
}

type ApplicationFilter struct {
	Status    ApplicationStatus
	ProjectID *uuid.UUID
}
