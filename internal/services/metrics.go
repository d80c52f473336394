// Prometheus collectors for pipeline outcomes.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// purchaseOutcomes counts purchase attempts by registrar and outcome.
	// Outcomes: committed, replayed, failed. Requests rejected before the
	// idempotency check are not counted.
	purchaseOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_purchases_total",
			Help: "Total number of purchase pipeline outcomes.",
		},
		[]string{"registrar", "outcome"},
	)

	// searchRequests counts search pipeline runs.
	searchRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_searches_total",
			Help: "Total number of search pipeline runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(purchaseOutcomes, searchRequests)
}
