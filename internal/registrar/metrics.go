// Prometheus collectors for upstream registrar traffic. Labels stay
// low-cardinality: provider name, logical operation, and outcome.
package registrar

import "github.com/prometheus/client_golang/prometheus"

var (
	// upstreamReqs counts registrar API calls by provider, operation, and outcome.
	upstreamReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_requests_total",
			Help: "Total number of upstream registrar API calls.",
		},
		[]string{"provider", "op", "outcome"},
	)

	// upstreamRetries counts retried registrar attempts by provider and operation.
	upstreamRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registrar_retries_total",
			Help: "Total number of retried registrar API attempts.",
		},
		[]string{"provider", "op"},
	)
)

func init() {
	prometheus.MustRegister(upstreamReqs, upstreamRetries)
}

// observe records the outcome of one logical registrar operation.
func observe(provider, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	upstreamReqs.WithLabelValues(provider, op, outcome).Inc()
}
