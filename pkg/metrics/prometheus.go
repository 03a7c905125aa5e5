package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

var TotalRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Number of requests served, by path.",
	},
	[]string{"path"},
)

var ProviderRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "provider_requests_total",
		Help: "Number of lookups sent to public ip providers",
	},
	[]string{"provider"},
)

var CloudProviderRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cloud_provider_requests_total",
		Help: "Number of calls made to the dns provider api",
	},
	[]string{"provider", "operation"},
)

var SyncOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sync_outcomes_total",
		Help: "Number of sync runs, by terminal outcome.",
	},
	[]string{"outcome"},
)

// InitMetrics registers every collector with the default registry.
// Calling it more than once is harmless.
func InitMetrics() {
	prometheus.Register(TotalRequests)
	prometheus.Register(ProviderRequests)
	prometheus.Register(CloudProviderRequests)
	prometheus.Register(SyncOutcomes)
}

func IncrementProvider(provider string) {
	ProviderRequests.WithLabelValues(provider).Inc()
}

func IncrementCloudProvider(provider, operation string) {
	CloudProviderRequests.WithLabelValues(provider, operation).Inc()
}

func IncrementOutcome(outcome string) {
	SyncOutcomes.WithLabelValues(outcome).Inc()
}

func IncrementReqs(r *http.Request) {
	TotalRequests.WithLabelValues(r.URL.Path).Inc()
}
