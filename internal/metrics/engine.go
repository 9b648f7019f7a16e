package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "curator"

var (
	materializeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "materialize_duration_seconds",
			Help:      "Collection materialization duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"type", "outcome"},
	)

	ledgerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_transitions_total",
			Help:      "Subscription ledger transitions by target status and outcome",
		},
		[]string{"status", "outcome"},
	)

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests sent to external collaborators",
		},
		[]string{"service", "outcome"},
	)

	releasePromotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "release_promotions_total",
			Help:      "Pending-release subscriptions promoted to wanted",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(materializeDuration)
	prometheus.MustRegister(ledgerTransitionsTotal)
	prometheus.MustRegister(upstreamRequestsTotal)
	prometheus.MustRegister(releasePromotionsTotal)
}

// ObserveMaterialize records one materialization of a collection type.
func ObserveMaterialize(collectionType, outcome string, elapsed time.Duration) {
	materializeDuration.WithLabelValues(collectionType, outcome).Observe(elapsed.Seconds())
}

// CountTransition records a ledger transition outcome.
func CountTransition(status, outcome string) {
	ledgerTransitionsTotal.WithLabelValues(status, outcome).Inc()
}

// CountUpstream records a request to an external service.
func CountUpstream(service, outcome string) {
	upstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
}

// AddReleasePromotions records promoted subscriptions.
func AddReleasePromotions(n int) {
	if n > 0 {
		releasePromotionsTotal.Add(float64(n))
	}
}
