package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reelrelay",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reelrelay",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 120, 300},
		},
		[]string{"method", "route"},
	)

	// ResolveAttemptsTotal counts single provider round trips by outcome kind.
	ResolveAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reelrelay",
			Subsystem: "resolver",
			Name:      "attempts_total",
			Help:      "Resolution provider attempts by outcome",
		},
		[]string{"outcome"},
	)

	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reelrelay",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Resolutions after the retry loop finished",
		},
		[]string{"status"},
	)

	RelaySessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reelrelay",
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Relay sessions by how they ended",
		},
		[]string{"outcome"},
	)

	RelayBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reelrelay",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Bytes forwarded from upstream to clients",
		},
	)

	ActiveRelays = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reelrelay",
			Subsystem: "relay",
			Name:      "active_sessions",
			Help:      "Relay sessions with an open upstream connection",
		},
	)
)
