package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EngagementsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "engagements_created_total", Help: "Total engagements created"})
	EngagementsClosed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "engagements_closed_total", Help: "Total engagements closed"})
	MatchFailures      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "match_failures_total", Help: "Create requests that found no driver"})
	LocationsRecorded  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "locations_recorded_total", Help: "Location records appended"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
