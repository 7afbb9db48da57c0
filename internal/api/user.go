package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/david/grant-tracker/internal/alerts"
	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
	"github.com/david/grant-tracker/internal/notify"
	"github.com/david/grant-tracker/internal/tracker"
)

// Alerts

func (s *Server) handleGetAlertProfile(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	p, err := s.Alerts.GetProfile(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"profile": p})
}

func (s *Server) handleSaveAlertProfile(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req alerts.SaveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	p, err := s.Alerts.SaveProfile(c.Request().Context(), uid, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"profile": p})
}

func (s *Server) handleDeleteAlertProfile(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	if err := s.Alerts.DeleteProfile(c.Request().Context(), uid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCheckAlerts(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	n, err := s.Alerts.CheckNow(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"newMatches": n})
}

// Favorites

type toggleFavoriteRequest struct {
	GrantID uuid.UUID `json:"grantId"`
	Notes   string    `json:"notes"`
}

func (s *Server) handleListFavorites(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	favs, err := s.Tracker.ListFavorites(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, favs)
}

func (s *Server) handleToggleFavorite(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req toggleFavoriteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	state, err := s.Tracker.ToggleFavorite(c.Request().Context(), uid, req.GrantID, req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"grantId": req.GrantID, "favorited": bool(state)})
}

// Applications

func (s *Server) handleListApplications(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	f := models.ApplicationFilter{Status: models.ApplicationStatus(c.QueryParam("status"))}
	if v := c.QueryParam("projectId"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return apperr.Invalid("projectId", "must be a UUID")
		}
		f.ProjectID = &pid
	}
	apps, err := s.Tracker.ListApplications(c.Request().Context(), uid, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, apps)
}

func (s *Server) handleCreateApplication(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req tracker.CreateApplicationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := s.Tracker.CreateApplication(c.Request().Context(), uid, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (s *Server) handleUpdateApplication(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var patch models.ApplicationPatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	a, err := s.Tracker.UpdateApplication(c.Request().Context(), uid, id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleDeleteApplication(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := s.Tracker.DeleteApplication(c.Request().Context(), uid, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Notifications

func (s *Server) handleListNotifications(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	unreadOnly := c.QueryParam("unreadOnly") == "true" || c.QueryParam("unread") == "true"
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return apperr.Invalid("limit", "must be an integer")
		}
	}
	res, err := s.Notifications.List(c.Request().Context(), uid, unreadOnly, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleMarkNotifications(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req notify.MarkRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := s.Notifications.MarkRead(c.Request().Context(), uid, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": n})
}

func (s *Server) handleUnreadCount(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	n, err := s.Notifications.UnreadCount(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"unreadCount": n})
}

// Calendar

func (s *Server) handleCalendarExport(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	data, err := s.Calendar.Export(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="convocatorias.ics"`)
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", data)
}
