// internal/devserver/metrics.go
//
// Prometheus instruments for the reference intake API.  All collectors are
// registered with the global registry, so importing this package is enough
// to expose them on /metrics.

package devserver

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_requests_total",
			Help: "API requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_request_duration_seconds",
			Help:    "API request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	finalizeTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_finalize_total",
			Help: "Cumulative number of submissions finalized.",
		})

	validationRejectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_validation_rejects_total",
			Help: "Cumulative number of finalize attempts rejected by validation.",
		})
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestDuration,
		finalizeTotal,
		validationRejectsTotal,
	)
}
