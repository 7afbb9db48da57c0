package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/apperr"
)

type errorBody struct {
	Error    string   `json:"error"`
	Code     string   `json:"code,omitempty"`
	Field    string   `json:"field,omitempty"`
	Plan     string   `json:"currentPlan,omitempty"`
	Required []string `json:"requiredPlans,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) (int, errorBody) {
	var (
		ve   *apperr.ValidationError
		tier *apperr.TierError
		he   *echo.HTTPError
	)
	switch {
	case errors.As(err, &he):
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, errorBody{Error: msg}
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody{Error: ve.Error(), Code: "validation", Field: ve.Field}
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation"}
	case errors.As(err, &tier):
		return http.StatusForbidden, errorBody{Error: tier.Error(), Code: "tier_required", Plan: tier.Plan, Required: tier.Required}
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, errorBody{Error: "Unauthorized", Code: "unauthorized"}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: err.Error(), Code: "forbidden"}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"}
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "upstream_unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: "Request timed out"}
	}
	return http.StatusInternalServerError, errorBody{Error: "Internal Server Error"}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, body := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{"method": c.Request().Method, "path": c.Path()}).Error("[API] Request failed")
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		log.WithError(err).Warn("[API] Failed to write error response")
	}
}
