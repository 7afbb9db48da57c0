package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/models"
	"github.com/david/grant-tracker/internal/search"
)

func (s *Server) handleSearchGrants(c echo.Context) error {
	facets, err := search.ParseValues(c.QueryParams())
	if err != nil {
		return err
	}
	q, err := search.Compile(facets)
	if err != nil {
		return err
	}
	res, err := s.Grants.SearchGrants(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if res.Grants == nil {
		res.Grants = []models.Grant{}
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetGrant(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	g, err := s.Grants.GetGrant(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

// handleCreateGrant stores a manually entered grant and runs alert matching for it.
func (s *Server) handleCreateGrant(c echo.Context) error {
	var g models.Grant
	if err := bind(c, &g); err != nil {
		return err
	}
	manualGrant(&g)
	if err := g.Validate(); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := s.Grants.CreateGrant(ctx, &g); err != nil {
		return err
	}
	if s.Alerts != nil {
		if _, err := s.Alerts.EvaluateGrants(ctx, []models.Grant{g}); err != nil {
			log.WithError(err).WithField("grant_id", g.ID).Warn("[API] Alert matching for new grant failed")
		}
	}
	return c.JSON(http.StatusCreated, g)
}

// manualGrant drops server-owned fields from a client payload and normalizes the region.
func manualGrant(g *models.Grant) {
	g.ID = uuid.Nil
	g.ExternalID = ""
	g.Source = models.SourceManual
	g.CreatedAt = time.Time{}
	g.UpdatedAt = time.Time{}
	g.Geography.Region = strings.ToLower(strings.TrimSpace(g.Geography.Region))
	if g.Status == "" {
		g.Status = models.GrantActive
	}
}

func (s *Server) handleDeleteGrant(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := s.Grants.DeleteGrant(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
