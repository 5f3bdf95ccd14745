package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestDuration) }

// route is the chi pattern (/api/v1/checkout/sessions/{id}), never the raw path.
var httpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "API request latency by route and status code.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "code"},
)

func ObserveHTTP(method, route string, code int, seconds float64) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(seconds)
}
