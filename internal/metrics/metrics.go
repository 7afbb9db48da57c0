// Package metrics holds the process Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grant_sync_records_total",
		Help: "Upstream records processed by the synchronizer, by result.",
	}, []string{"result"})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grant_sync_runs_total",
		Help: "Sync invocations by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "grant_sync_duration_seconds",
		Help:    "Wall time of one sync invocation.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	UpstreamUnavailable = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grant_upstream_unavailable_total",
		Help: "Registry calls that failed, by reason.",
	}, []string{"reason"})

	AlertNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grant_alert_notifications_total",
		Help: "Grant match notifications created.",
	})

	AlertEmails = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grant_alert_emails_total",
		Help: "Alert emails attempted, by kind and result.",
	}, []string{"kind", "result"})

	ScheduledRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grant_scheduled_syncs_total",
		Help: "Scheduled per-user sync executions, by result.",
	}, []string{"result"})
)
