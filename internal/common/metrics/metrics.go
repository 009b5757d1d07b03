package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immo_requests_total",
			Help: "Outbound requests by source and response status",
		},
		[]string{"source", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "immo_request_duration_seconds",
			Help:    "Outbound request latency, excluding pacing waits",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	ListingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immo_listings_total",
			Help: "Listings seen at each pipeline stage",
		},
		[]string{"source", "stage"},
	)

	BreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "immo_breaker_open",
			Help: "1 while the source circuit breaker is open",
		},
		[]string{"source"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "immo_runs_total",
			Help: "Finished runs by terminal state",
		},
		[]string{"state"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "immo_runs_active",
			Help: "Runs currently in progress",
		},
	)
)
