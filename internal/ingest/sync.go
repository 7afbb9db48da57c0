package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/metrics"
	"github.com/david/grant-tracker/internal/models"
)

const (
	maxErrorSamples = 5
	DefaultPageSize = 50
	MaxPageSize     = 200

	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

type GrantStore interface {
	InsertGrantIfAbsent(ctx context.Context, g *models.Grant) (bool, error)
}

type RunRecorder interface {
	RecordSyncRun(ctx context.Context, r *models.SyncRun) error
}

// Synchronizer pulls registry records for a search term and inserts the ones not yet stored.
type Synchronizer struct {
	Source        Source
	Store         GrantStore
	Runs          RunRecorder
	Classifier    *Classifier
	DetailLookups bool
	PageSize      int
	Now           func() time.Time
}

func NewSynchronizer(source Source, store GrantStore, runs RunRecorder, cls *Classifier) *Synchronizer {
	return &Synchronizer{
		Source:        source,
		Store:         store,
		Runs:          runs,
		Classifier:    cls,
		DetailLookups: true,
		PageSize:      DefaultPageSize,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

type Request struct {
	SearchTerm string
	OpenOnly   bool
	PageSize   int
	UserID     *uuid.UUID
	Trigger    string
}

// Result summarises one sync. Outcome separates "nothing found" from "could not ask".
type Result struct {
	Outcome   models.SyncOutcome `json:"outcome"`
	Total     int                `json:"total"`
	Imported  int                `json:"imported"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Errors    []string           `json:"errors,omitempty"`
	NewGrants []models.Grant     `json:"-"`
}

func (r *Result) fail(id string, err error) {
	r.Failed++
	if len(r.Errors) < maxErrorSamples {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", id, err))
	}
}

func (s *Synchronizer) pageSize(requested int) (int, error) {
	switch {
	case requested == 0 && s.PageSize > 0:
		return s.PageSize, nil
	case requested == 0:
		return DefaultPageSize, nil
	case requested < 0 || requested > MaxPageSize:
		return 0, apperr.Invalid("pageSize", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}
	return requested, nil
}

// Sync runs one synchronization. Upstream failures come back as *apperr.UpstreamError
// alongside a Result whose Outcome says which kind of failure it was.
func (s *Synchronizer) Sync(ctx context.Context, req Request) (Result, error) {
	term := strings.TrimSpace(req.SearchTerm)
	if term == "" {
		return Result{}, apperr.Invalid("searchTerm", "is required")
	}
	size, err := s.pageSize(req.PageSize)
	if err != nil {
		return Result{}, err
	}
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}

	started := s.Now()
	logger := log.WithFields(log.Fields{"term": term, "trigger": req.Trigger})
	var res Result

	defer func() {
		metrics.SyncDuration.Observe(time.Since(started).Seconds())
		metrics.SyncRuns.WithLabelValues(req.Trigger, string(res.Outcome)).Inc()
		s.record(ctx, req, term, started, res)
	}()

	page, err := s.Source.Search(ctx, SearchParams{Term: term, OpenOnly: req.OpenOnly, PageSize: size})
	if err != nil {
		res.Outcome = outcomeFor(err)
		logger.WithError(err).Warn("[Sync] Registry search failed")
		return res, err
	}
	if len(page.Records) == 0 {
		res.Outcome = models.OutcomeNoResults
		logger.Info("[Sync] No results")
		return res, nil
	}

	for _, rec := range page.Records {
		if err := ctx.Err(); err != nil {
			res.Outcome = models.OutcomeCanceled
			logger.WithField("processed", res.Total).Warn("[Sync] Canceled between records")
			return res, err
		}
		res.Total++
		s.processRecord(ctx, rec, &res)
	}

	res.Outcome = models.OutcomeImported
	metrics.SyncRecords.WithLabelValues("imported").Add(float64(res.Imported))
	metrics.SyncRecords.WithLabelValues("skipped").Add(float64(res.Skipped))
	metrics.SyncRecords.WithLabelValues("failed").Add(float64(res.Failed))
	logger.WithFields(log.Fields{
		"total": res.Total, "imported": res.Imported, "skipped": res.Skipped, "failed": res.Failed,
	}).Info("[Sync] Done")
	return res, nil
}

// processRecord isolates one record: any failure, including a panic, is counted and sampled.
func (s *Synchronizer) processRecord(ctx context.Context, rec Record, res *Result) {
	id := rec.ExternalID()
	defer func() {
		if r := recover(); r != nil {
			res.fail(id, fmt.Errorf("panic: %v", r))
		}
	}()

	c := Candidate{Record: rec}
	if s.DetailLookups && id != "" {
		if d, err := s.Source.Detail(ctx, id); err == nil {
			c.Detail = d
		} else {
			log.Printf("[Sync] Failed to fetch details for %s: %v", id, err)
		}
	}

	g, err := Normalize(c, s.Classifier, s.Now())
	if err != nil {
		res.fail(id, err)
		return
	}

	inserted, err := s.Store.InsertGrantIfAbsent(ctx, &g)
	if err != nil {
		res.fail(id, err)
		return
	}
	if inserted {
		res.Imported++
		res.NewGrants = append(res.NewGrants, g)
	} else {
		res.Skipped++
	}
}

func (s *Synchronizer) record(ctx context.Context, req Request, term string, started time.Time, res Result) {
	if s.Runs == nil {
		return
	}
	run := &models.SyncRun{
		UserID:     req.UserID,
		SearchTerm: term,
		Trigger:    req.Trigger,
		Outcome:    res.Outcome,
		Total:      res.Total,
		Imported:   res.Imported,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		Errors:     res.Errors,
		StartedAt:  started,
		FinishedAt: s.Now(),
	}
	// The ledger write must survive the caller's cancellation.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Runs.RecordSyncRun(recordCtx, run); err != nil {
		log.Printf("[Sync] Failed to record run for %q: %v", term, err)
	}
}

func outcomeFor(err error) models.SyncOutcome {
	var up *apperr.UpstreamError
	switch {
	case errors.As(err, &up) && up.NeedsToken:
		return models.OutcomeNeedsToken
	case errors.Is(err, context.Canceled):
		return models.OutcomeCanceled
	}
	return models.OutcomeUnavailable
}

// Preview is a read-only sample of what a sync would see.
type Preview struct {
	Total  int            `json:"total"`
	Sample []models.Grant `json:"sample"`
}

// Probe searches the registry without touching the store.
func (s *Synchronizer) Probe(ctx context.Context, term string, limit int) (Preview, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return Preview{}, apperr.Invalid("searchTerm", "is required")
	}
	if limit <= 0 || limit > 20 {
		limit = 10
	}
	page, err := s.Source.Search(ctx, SearchParams{Term: term, PageSize: limit})
	if err != nil {
		return Preview{}, err
	}
	p := Preview{Total: page.Total, Sample: []models.Grant{}}
	if p.Total < len(page.Records) {
		p.Total = len(page.Records)
	}
	for _, rec := range page.Records {
		g, err := Normalize(Candidate{Record: rec}, s.Classifier, s.Now())
		if err != nil {
			continue
		}
		p.Sample = append(p.Sample, g)
	}
	return p, nil
}
