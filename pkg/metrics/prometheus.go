package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DossiersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dossierflow_dossiers_created_total",
			Help: "Total number of dossiers created",
		},
	)

	SituationsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossierflow_situations_appended_total",
			Help: "Total number of situations appended by label",
		},
		[]string{"label"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossierflow_notifications_total",
			Help: "Notifications by type and storage result",
		},
		[]string{"type", "result"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossierflow_notification_dispatch_failures_total",
			Help: "Post-commit notification fan-outs that failed and were dropped",
		},
		[]string{"operation"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dossierflow_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	PermissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossierflow_permission_denials_total",
			Help: "Requests rejected for missing permissions",
		},
		[]string{"route"},
	)
)
