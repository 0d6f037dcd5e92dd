// Package metrics defines the Prometheus instruments exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan lifecycle metrics
var (
	// ScansTotal tracks scans entering each status.
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_total",
			Help: "Total number of scan status transitions by status",
		},
		[]string{"status"},
	)

	// ScansInProgress tracks scans currently pending or running.
	ScansInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scans_in_progress",
			Help: "Number of scans currently pending or running",
		},
	)

	// ScanDuration tracks scan wall-clock duration.
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scan_duration_seconds",
			Help:    "Scan duration in seconds from start to terminal state",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200, 14400},
		},
		[]string{"status"},
	)

	// ScanActivityAppends tracks activity ledger writes by step status.
	ScanActivityAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_activity_appends_total",
			Help: "Total number of activity ledger appends by step status",
		},
		[]string{"status"},
	)

	// ScansFailedStale tracks scans failed by the stale-scan watchdog.
	ScansFailedStale = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scans_failed_stale_total",
			Help: "Total number of running scans failed by the watchdog",
		},
	)
)

// Webhook delivery metrics
var (
	// WebhookDeliveriesTotal tracks delivery outcomes by event and result.
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Total number of webhook deliveries by event and result",
		},
		[]string{"event", "result"},
	)

	// WebhookDeliveryAttempts tracks HTTP attempts including retries.
	WebhookDeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_delivery_attempts_total",
			Help: "Total number of webhook HTTP attempts including retries",
		},
		[]string{"event"},
	)

	// WebhookDeliveryDuration tracks end-to-end delivery time per attempt.
	WebhookDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Webhook delivery attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"event"},
	)
)

// Delivery result label values.
const (
	ResultSuccess   = "success"
	ResultExhausted = "exhausted"
)
