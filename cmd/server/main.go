package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/alerts"
	"github.com/david/grant-tracker/internal/api"
	"github.com/david/grant-tracker/internal/auth"
	"github.com/david/grant-tracker/internal/calendar"
	"github.com/david/grant-tracker/internal/config"
	"github.com/david/grant-tracker/internal/db"
	"github.com/david/grant-tracker/internal/db/memory"
	"github.com/david/grant-tracker/internal/ingest"
	"github.com/david/grant-tracker/internal/logging"
	"github.com/david/grant-tracker/internal/notify"
	"github.com/david/grant-tracker/internal/scheduler"
	"github.com/david/grant-tracker/internal/tracker"
)

// repository is everything the services need from persistence.
// Both the Postgres store and the in-memory store satisfy it.
type repository interface {
	api.GrantStore
	api.RunLister
	ingest.GrantStore
	ingest.RunRecorder
	scheduler.ConfigStore
	scheduler.UserLookup
	scheduler.NotificationWriter
	alerts.ProfileStore
	alerts.GrantLister
	alerts.NotificationStore
	tracker.Store
	notify.Store
	calendar.FavoriteLister
}

func openStore(ctx context.Context, url string) (repository, func(context.Context) error, func(), error) {
	if strings.HasPrefix(url, "memory://") {
		log.Warn("Using in-memory store; data is lost on exit")
		return memory.New(), nil, func() {}, nil
	}
	pool, err := db.Connect(ctx, url)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}
	return db.NewStore(pool), pool.Ping, pool.Close, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, ping, closeStore, err := openStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer closeStore()

	authn, err := auth.NewAuthenticator(cfg.Auth)
	if err != nil {
		log.Fatalf("Auth setup failed: %v", err)
	}
	classifier, err := ingest.NewClassifier()
	if err != nil {
		log.Fatalf("Classifier setup failed: %v", err)
	}
	loc, err := time.LoadLocation(cfg.Calendar.TimeZone)
	if err != nil {
		log.Fatalf("Invalid calendar time zone: %v", err)
	}

	source := ingest.NewBDNSClient(cfg.BDNS.BaseURL, cfg.BDNS.Token, cfg.BDNS.Timeout, cfg.BDNS.RateLimit)
	syncer := ingest.NewSynchronizer(source, store, store, classifier)
	syncer.DetailLookups = cfg.BDNS.DetailLookups
	syncer.PageSize = cfg.BDNS.PageSize

	mailer := notify.NewSender(cfg.Mail)
	matcher := alerts.NewMatcher(store, store, store, store, mailer)
	policy := scheduler.Policy{EligiblePlans: cfg.Scheduler.Plans()}

	var runner *scheduler.Runner
	if cfg.Scheduler.Enabled {
		runner = scheduler.NewRunner(store, store, policy, syncer, store, matcher, cfg.Scheduler.Concurrency)
		if err := runner.Schedule(cfg.Scheduler.TickSpec, "sync-due", func(ctx context.Context) error {
			_, err := runner.RunDue(ctx)
			return err
		}); err != nil {
			log.Fatalf("Scheduler setup failed: %v", err)
		}
		if err := runner.Schedule(cfg.Scheduler.DigestSpec, "alert-digest", func(ctx context.Context) error {
			_, err := matcher.Digest(ctx)
			return err
		}); err != nil {
			log.Fatalf("Scheduler setup failed: %v", err)
		}
		runner.Start()
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Grants:        store,
		Syncer:        syncer,
		Runs:          store,
		SyncConfigs:   scheduler.NewService(store, store, policy),
		Runner:        runner,
		Alerts:        matcher,
		Tracker:       tracker.NewService(store),
		Notifications: notify.NewService(store),
		Calendar:      calendar.NewExporter(store, loc),
		Auth:          authn,
		Ping:          ping,
	})

	go func() {
		log.Printf("Server starting on port %s...", cfg.Server.Port)
		if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if runner != nil {
		runner.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown: %v", err)
	}
}
