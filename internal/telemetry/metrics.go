// Package telemetry registers the service's Prometheus collectors. Counters
// are incremented at the call sites that do the work; the main service
// exposes them on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedmon",
		Subsystem: "ingest",
		Name:      "fetch_requests_total",
		Help:      "Fetch attempts by series and outcome.",
	}, []string{"series", "status"})

	ObservationsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedmon",
		Subsystem: "ingest",
		Name:      "observations_upserted_total",
		Help:      "Observations written to storage.",
	}, []string{"series"})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fedmon",
		Subsystem: "ingest",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of one series fetch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"series"})

	LastFetchSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fedmon",
		Subsystem: "ingest",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful fetch per series.",
	}, []string{"series"})

	DerivedPointsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fedmon",
		Subsystem: "metrics",
		Name:      "derived_points_stored_total",
		Help:      "Computed metric points written to storage.",
	})

	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedmon",
		Subsystem: "alerting",
		Name:      "evaluations_total",
		Help:      "Rule evaluations by result.",
	}, []string{"result"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedmon",
		Subsystem: "alerting",
		Name:      "transitions_total",
		Help:      "Alert state transitions by severity and direction.",
	}, []string{"severity", "direction"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedmon",
		Subsystem: "alerting",
		Name:      "notifications_total",
		Help:      "Outbound notifications by outcome.",
	}, []string{"status"})
)
