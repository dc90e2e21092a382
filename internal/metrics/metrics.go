package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Delivery metrics
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_delivered_total",
			Help: "Events accepted by the dispatcher",
		},
		[]string{"mode"}, // "live" or "queued"
	)

	PendingEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_pending_evicted_total",
			Help: "Pending events evicted before delivery",
		},
		[]string{"reason"}, // "ttl" or "overflow"
	)

	DroppedWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dropped_writes_total",
			Help: "Writes discarded because a connection was dead or slow",
		},
	)

	// Connection metrics
	ConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_open",
			Help: "Currently registered websocket connections",
		},
	)

	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Handshake and refresh credential failures",
		},
		[]string{"stage"}, // "handshake" or "refresh"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)
)
