// Package api is the HTTP boundary: routing, request binding and error mapping.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/david/grant-tracker/internal/alerts"
	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/auth"
	"github.com/david/grant-tracker/internal/calendar"
	"github.com/david/grant-tracker/internal/config"
	"github.com/david/grant-tracker/internal/ingest"
	"github.com/david/grant-tracker/internal/models"
	"github.com/david/grant-tracker/internal/notify"
	"github.com/david/grant-tracker/internal/scheduler"
	"github.com/david/grant-tracker/internal/search"
	"github.com/david/grant-tracker/internal/tracker"
)

type GrantStore interface {
	SearchGrants(ctx context.Context, q search.Query) (search.Result, error)
	GetGrant(ctx context.Context, id uuid.UUID) (*models.Grant, error)
	CreateGrant(ctx context.Context, g *models.Grant) error
	DeleteGrant(ctx context.Context, id uuid.UUID) error
}

type Syncer interface {
	Sync(ctx context.Context, req ingest.Request) (ingest.Result, error)
	Probe(ctx context.Context, term string, limit int) (ingest.Preview, error)
}

type RunLister interface {
	ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Grants        GrantStore
	Syncer        Syncer
	Runs          RunLister
	SyncConfigs   *scheduler.Service
	Runner        *scheduler.Runner
	Alerts        *alerts.Matcher
	Tracker       *tracker.Service
	Notifications *notify.Service
	Calendar      *calendar.Exporter
	Auth          *auth.Authenticator
	Ping          func(ctx context.Context) error
}

type Server struct {
	Deps
	Echo *echo.Echo
}

func NewServer(cfg config.ServerConfig, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	var allowedOrigins []string
	for _, o := range strings.Split(cfg.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, auth.AdminHeader},
	}))

	s := &Server{Deps: d, Echo: e}
	e.HTTPErrorHandler = s.errorHandler
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.Echo.Group("/api/v1")
	api.GET("/grants", s.handleSearchGrants)
	api.GET("/grants/:id", s.handleGetGrant)

	user := api.Group("", s.Auth.Middleware)
	user.POST("/sync/trigger", s.handleSyncTrigger)
	user.POST("/sync/probe", s.handleSyncProbe)
	user.GET("/sync/config", s.handleGetSyncConfig)
	user.POST("/sync/config", s.handleSaveSyncConfig)

	user.GET("/alerts", s.handleGetAlertProfile)
	user.POST("/alerts", s.handleSaveAlertProfile)
	user.DELETE("/alerts", s.handleDeleteAlertProfile)
	user.POST("/alerts/check", s.handleCheckAlerts)

	user.GET("/favorites", s.handleListFavorites)
	user.POST("/favorites", s.handleToggleFavorite)

	user.GET("/applications", s.handleListApplications)
	user.POST("/applications", s.handleCreateApplication)
	user.PATCH("/applications/:id", s.handleUpdateApplication)
	user.DELETE("/applications/:id", s.handleDeleteApplication)

	user.GET("/notifications", s.handleListNotifications)
	user.PATCH("/notifications", s.handleMarkNotifications)
	user.GET("/notifications/unread-count", s.handleUnreadCount)

	user.GET("/calendar/export", s.handleCalendarExport)

	admin := api.Group("/admin", s.Auth.AdminMiddleware)
	admin.POST("/grants", s.handleCreateGrant)
	admin.DELETE("/grants/:id", s.handleDeleteGrant)
	admin.GET("/sync/runs", s.handleListSyncRuns)
	admin.POST("/sync/run-due", s.handleRunDue)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func userID(c echo.Context) (uuid.UUID, error) {
	id, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return uuid.Nil, apperr.ErrUnauthorized
	}
	return id, nil
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Invalid(name, "must be a UUID")
	}
	return id, nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperr.Invalid("", "malformed request body")
	}
	return nil
}
