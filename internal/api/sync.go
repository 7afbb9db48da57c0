package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/ingest"
	"github.com/david/grant-tracker/internal/scheduler"
)

type syncTriggerRequest struct {
	SearchTerm   string `json:"searchTerm"`
	SoloAbiertas bool   `json:"soloAbiertas"`
	PageSize     int    `json:"pageSize"`
}

type syncTriggerResponse struct {
	Success         bool     `json:"success"`
	Outcome         string   `json:"outcome"`
	Message         string   `json:"message"`
	Imported        int      `json:"imported"`
	Skipped         int      `json:"skipped"`
	Failed          int      `json:"failed"`
	Total           int      `json:"total"`
	Errors          []string `json:"errors,omitempty"`
	BDNSUnavailable bool     `json:"bdnsUnavailable,omitempty"`
	NeedsToken      bool     `json:"needsToken,omitempty"`
}

// handleSyncTrigger answers 200 for every upstream outcome; the body tells them apart.
func (s *Server) handleSyncTrigger(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req syncTriggerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := s.Syncer.Sync(ctx, ingest.Request{
		SearchTerm: req.SearchTerm,
		OpenOnly:   req.SoloAbiertas,
		PageSize:   req.PageSize,
		UserID:     &uid,
		Trigger:    ingest.TriggerManual,
	})

	var up *apperr.UpstreamError
	switch {
	case errors.As(err, &up):
		msg := "El registro BDNS no está disponible en este momento"
		if up.NeedsToken {
			msg = "El registro BDNS requiere un token de acceso válido"
		}
		return c.JSON(http.StatusOK, syncTriggerResponse{
			Outcome: string(res.Outcome), Message: msg,
			BDNSUnavailable: true, NeedsToken: up.NeedsToken,
		})
	case err != nil:
		return err
	}

	if len(res.NewGrants) > 0 && s.Alerts != nil {
		if _, err := s.Alerts.EvaluateGrants(ctx, res.NewGrants); err != nil {
			log.WithError(err).Warn("[API] Alert matching after sync failed")
		}
	}

	body := syncTriggerResponse{
		Success:  true,
		Outcome:  string(res.Outcome),
		Imported: res.Imported,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
		Total:    res.Total,
		Errors:   res.Errors,
	}
	if res.Total == 0 {
		body.Message = "No se encontraron convocatorias para \"" + req.SearchTerm + "\""
	} else {
		body.Message = strconv.Itoa(res.Imported) + " importadas, " + strconv.Itoa(res.Skipped) + " ya existentes"
	}
	return c.JSON(http.StatusOK, body)
}

type syncProbeRequest struct {
	SearchTerm string `json:"searchTerm"`
	Limit      int    `json:"limit"`
}

func (s *Server) handleSyncProbe(c echo.Context) error {
	var req syncProbeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	p, err := s.Syncer.Probe(c.Request().Context(), req.SearchTerm, req.Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleGetSyncConfig(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	v, err := s.SyncConfigs.Get(c.Request().Context(), uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) handleSaveSyncConfig(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return err
	}
	var req scheduler.SaveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cfg, err := s.SyncConfigs.Save(c.Request().Context(), uid, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleListSyncRuns(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return apperr.Invalid("limit", "must be a positive integer")
		}
		limit = n
	}
	runs, err := s.Runs.ListSyncRuns(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleRunDue(c echo.Context) error {
	if s.Runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Scheduler is disabled")
	}
	n, err := s.Runner.RunDue(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"users": n})
}
