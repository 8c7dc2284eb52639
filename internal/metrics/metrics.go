package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatter_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Orchestration metrics
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_webhook_events_total",
			Help: "Inbound webhook events by resolved intent",
		},
		[]string{"intent"}, // "text", "command", "photo", "video", "invalid"
	)

	BusyRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatter_busy_rejections_total",
			Help: "Events rejected because the chat lock was held",
		},
	)

	Completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_completions_total",
			Help: "Completion dispatches by strategy and outcome",
		},
		[]string{"strategy", "outcome"}, // outcome: "ok", "empty", "error"
	)

	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatter_completion_duration_seconds",
			Help:    "Completion dispatch latency",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"strategy"},
	)

	// Delivery metrics
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_delivery_attempts_total",
			Help: "Messaging API call attempts",
		},
		[]string{"method"},
	)

	DeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_delivery_failures_total",
			Help: "Messaging API calls that failed after all retries",
		},
		[]string{"method"},
	)

	// Lock metrics
	LockAcquisitions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatter_lock_acquisitions_total",
			Help: "Chat locks acquired",
		},
	)

	LockReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatter_lock_releases_total",
			Help: "Chat lock releases",
		},
		[]string{"result"}, // "ok", "lost" (swept before release) or "error"
	)

	StaleLocksSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatter_stale_locks_swept_total",
			Help: "Locks force released by the sweeper",
		},
	)
)
