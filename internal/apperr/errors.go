// Package apperr defines the error taxonomy shared by every layer.
// Handlers map these to HTTP statuses; services and stores wrap them with context.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrTierRequired        = errors.New("subscription tier required")
)

// ValidationError describes a missing or invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid creates a ValidationError for a single field.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamError reports that the external registry could not be consulted.
// It is never used for "no matches".
type UpstreamError struct {
	Source     string
	NeedsToken bool
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.NeedsToken {
		return fmt.Sprintf("%s requires a valid access token: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

// TierError reports a feature gated by subscription plan.
type TierError struct {
	Feature  string
	Plan     string
	Required []string
}

func (e *TierError) Error() string {
	return fmt.Sprintf("%s requires plan %s (current: %s)", e.Feature, strings.Join(e.Required, " or "), e.Plan)
}

func (e *TierError) Unwrap() error { return ErrTierRequired }

// NotFound wraps ErrNotFound with the entity and key.
func NotFound(entity string, key any) error {
	return fmt.Errorf("%s %v: %w", entity, key, ErrNotFound)
}

// Conflict wraps ErrConflict with a human-readable reason.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Forbidden wraps ErrForbidden; used for cross-user access.
func Forbidden(entity string, key any) error {
	return fmt.Errorf("%s %v: %w", entity, key, ErrForbidden)
}
