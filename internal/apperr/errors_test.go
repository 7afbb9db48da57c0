package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorUnwraps(t *testing.T) {
	err := fmt.Errorf("create application: %w", Invalid("grantId", "is required"))

	assert.True(t, errors.Is(err, ErrValidation))
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "grantId", ve.Field)
	assert.Equal(t, "validation: grantId: is required", ve.Error())
}

func TestUpstreamErrorIsDistinctFromNotFound(t *testing.T) {
	err := &UpstreamError{Source: "bdns", Err: context.DeadlineExceeded}

	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestTierError(t *testing.T) {
	err := &TierError{Feature: "auto sync", Plan: "basic", Required: []string{"premium"}}

	assert.True(t, errors.Is(err, ErrTierRequired))
	assert.Contains(t, err.Error(), "premium")
	assert.Contains(t, err.Error(), "basic")
}

func TestHelpersWrapSentinels(t *testing.T) {
	assert.True(t, errors.Is(NotFound("grant", "abc"), ErrNotFound))
	assert.True(t, errors.Is(Conflict("application for grant %s exists", "abc"), ErrConflict))
	assert.True(t, errors.Is(Forbidden("application", "abc"), ErrForbidden))
}
