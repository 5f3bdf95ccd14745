package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		gatewayOutcomesTotal,
		gatewayLoadsTotal,
		gatewayCallbacksTotal,
	)
}

var (
	gatewayOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_outcomes_total",
			Help: "Gateway interactions by gateway and outcome (succeeded/cancelled/failed).",
		},
		[]string{"gateway", "outcome"},
	)

	// result: ok|fail
	gatewayLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_loads_total",
			Help: "Vendor SDK load attempts by gateway and result.",
		},
		[]string{"gateway", "result"},
	)

	// result: delivered|unmatched|duplicate|bad_request
	gatewayCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_callbacks_total",
			Help: "Vendor callbacks forwarded to the service by gateway, kind and result.",
		},
		[]string{"gateway", "kind", "result"},
	)
)

func IncGatewayOutcome(gateway, outcome string) {
	gatewayOutcomesTotal.WithLabelValues(norm(gateway), norm(outcome)).Inc()
}

func IncGatewayLoad(gateway, result string) {
	gatewayLoadsTotal.WithLabelValues(norm(gateway), norm(result)).Inc()
}

func IncGatewayCallback(gateway, kind, result string) {
	gatewayCallbacksTotal.WithLabelValues(norm(gateway), norm(kind), norm(result)).Inc()
}
