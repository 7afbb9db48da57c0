package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/ingest"
	"github.com/david/grant-tracker/internal/metrics"
	"github.com/david/grant-tracker/internal/models"
)

const previewLimit = 10

type Syncer interface {
	Sync(ctx context.Context, req ingest.Request) (ingest.Result, error)
	Probe(ctx context.Context, term string, limit int) (ingest.Preview, error)
}

type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// AlertEvaluator matches freshly imported grants against one user's alert profile.
type AlertEvaluator interface {
	EvaluateUser(ctx context.Context, userID uuid.UUID, grants []models.Grant) (int, error)
}

// Runner executes due sync configurations on a cron schedule.
type Runner struct {
	Configs     ConfigStore
	Users       UserLookup
	Policy      Policy
	Syncer      Syncer
	Notes       NotificationWriter
	Alerts      AlertEvaluator
	Concurrency int
	Now         func() time.Time

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	// running is held for the duration of RunDue.
	running sync.Mutex
}

func NewRunner(configs ConfigStore, users UserLookup, policy Policy, syncer Syncer, notes NotificationWriter, alerts AlertEvaluator, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		Configs:     configs,
		Users:       users,
		Policy:      policy,
		Syncer:      syncer,
		Notes:       notes,
		Alerts:      alerts,
		Concurrency: concurrency,
		Now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
	}
	r.cron = cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log.StandardLogger())),
		cron.SkipIfStillRunning(cron.PrintfLogger(log.StandardLogger())),
	))
	return r
}

// Schedule registers job under a standard cron spec or a descriptor such as "@every 1m".
func (r *Runner) Schedule(spec, name string, job func(ctx context.Context) error) error {
	_, err := r.cron.AddFunc(spec, func() {
		started := time.Now()
		if err := job(r.ctx); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				log.WithField("job", name).Info("[Scheduler] Skipped, previous run still in progress")
				metrics.ScheduledRuns.WithLabelValues("skipped").Inc()
				return
			}
			log.WithError(err).WithField("job", name).Error("[Scheduler] Job failed")
			metrics.ScheduledRuns.WithLabelValues("error").Inc()
			return
		}
		metrics.ScheduledRuns.WithLabelValues("ok").Inc()
		log.WithFields(log.Fields{"job": name, "took": time.Since(started).String()}).Debug("[Scheduler] Job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return nil
}

func (r *Runner) Start() {
	log.Printf("[Scheduler] Starting with %d jobs", len(r.cron.Entries()))
	r.cron.Start()
}

// Stop cancels running jobs and waits for them, bounded by ctx.
func (r *Runner) Stop(ctx context.Context) {
	r.cancel()
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn("[Scheduler] Shutdown timed out with jobs still running")
	}
}

// RunDue syncs every enabled configuration whose next_sync has passed.
// Users run concurrently up to Concurrency; one user's failure does not stop the others.
// A call made while another RunDue is in flight returns ErrConflict without syncing.
func (r *Runner) RunDue(ctx context.Context) (int, error) {
	if !r.running.TryLock() {
		return 0, apperr.Conflict("a sync run is already in progress")
	}
	defer r.running.Unlock()

	now := r.Now()
	due, err := r.Configs.ListDueSyncConfigs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due sync configs: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}
	log.Printf("[Scheduler] %d sync configs due", len(due))

	var (
		mu  sync.Mutex
		ran int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Concurrency)
	for _, cfg := range due {
		g.Go(func() error {
			if err := r.runUser(gctx, cfg); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				log.WithError(err).WithField("user_id", cfg.UserID).Error("[Scheduler] User sync failed")
				return nil
			}
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return ran, err
}

func (r *Runner) runUser(ctx context.Context, cfg models.SyncConfig) error {
	logger := log.WithFields(log.Fields{"user_id": cfg.UserID, "frequency": cfg.Frequency})

	u, err := r.Users.GetUser(ctx, cfg.UserID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("lookup user: %w", err)
	}
	if !r.Policy.Eligible(u) {
		logger.Warn("[Scheduler] User no longer eligible, disabling auto sync")
		return r.Configs.DisableSyncConfig(ctx, cfg.UserID)
	}

	userID := cfg.UserID
	var fresh []models.Grant
	for _, term := range cfg.SearchTerms {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !cfg.AutoImport {
			r.preview(ctx, userID, term)
			continue
		}
		res, err := r.Syncer.Sync(ctx, ingest.Request{
			SearchTerm: term,
			OpenOnly:   true,
			UserID:     &userID,
			Trigger:    ingest.TriggerScheduled,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.WithError(err).WithField("term", term).Warn("[Scheduler] Term sync failed")
			continue
		}
		fresh = append(fresh, res.NewGrants...)
	}

	if cfg.NotifyNew && len(fresh) > 0 && r.Alerts != nil {
		n, err := r.Alerts.EvaluateUser(ctx, userID, fresh)
		if err != nil {
			logger.WithError(err).Warn("[Scheduler] Alert evaluation failed")
		} else {
			logger.WithField("notifications", n).Info("[Scheduler] Alerts evaluated")
		}
	}

	now := r.Now()
	next, err := NextSync(true, cfg.Frequency, now)
	if err != nil {
		return err
	}
	return r.Configs.MarkSynced(context.WithoutCancel(ctx), userID, now, next)
}

func (r *Runner) preview(ctx context.Context, userID uuid.UUID, term string) {
	p, err := r.Syncer.Probe(ctx, term, previewLimit)
	if err != nil {
		log.WithError(err).WithField("term", term).Warn("[Scheduler] Preview failed")
		return
	}
	if p.Total == 0 || r.Notes == nil {
		return
	}
	n := &models.Notification{
		UserID:  userID,
		Type:    models.NotificationSyncPreview,
		Title:   fmt.Sprintf("%d convocatorias para \"%s\"", p.Total, term),
		Message: fmt.Sprintf("La búsqueda \"%s\" tiene %d convocatorias abiertas pendientes de importar.", term, p.Total),
	}
	if err := r.Notes.CreateNotification(ctx, n); err != nil {
		log.WithError(err).Warn("[Scheduler] Failed to record preview notification")
	}
}
