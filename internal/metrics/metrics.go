// Package metrics provides Prometheus metrics for the aggregator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionsTotal counts title resolutions by outcome
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movieratings",
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Total number of title resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// RecordsCreatedTotal counts records inserted by the resolver
	RecordsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "movieratings",
			Subsystem: "resolver",
			Name:      "records_created_total",
			Help:      "Total number of records created from provider data",
		},
	)

	// DuplicateInsertsAvoided counts inserts skipped because the title already existed
	DuplicateInsertsAvoided = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movieratings",
			Subsystem: "resolver",
			Name:      "duplicate_inserts_avoided_total",
			Help:      "Inserts skipped because a record with the same title already existed",
		},
		[]string{"stage"},
	)

	// ProviderRequestsTotal tracks outbound provider requests
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movieratings",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of outbound rating provider requests by result",
		},
		[]string{"result"},
	)

	// ProviderRequestDuration tracks outbound provider request duration
	ProviderRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "movieratings",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound rating provider requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// UnparseableRatingsTotal counts provider values that could not be normalized
	UnparseableRatingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "movieratings",
			Subsystem: "normalizer",
			Name:      "unparseable_ratings_total",
			Help:      "Provider rating values that could not be normalized, by source",
		},
		[]string{"source"},
	)
)
