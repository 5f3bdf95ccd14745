package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		checkoutTransitionsTotal,
		checkoutFinalizeDuration,
		checkoutNotificationsTotal,
		checkoutSessionsActive,
	)
}

var (
	// from/to are orchestrator phases (idle, initiating, awaiting_auth, ...).
	checkoutTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_transitions_total",
			Help: "Checkout state machine transitions by source and target phase.",
		},
		[]string{"kind", "from", "to"},
	)

	checkoutFinalizeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkout_finalize_duration_seconds",
			Help:    "Duration of backend finalization calls in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"kind", "success"},
	)

	// status: sent|error
	checkoutNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_notifications_total",
			Help: "Realtime activation notifications by event and delivery status.",
		},
		[]string{"event", "status"},
	)

	checkoutSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_sessions_active",
			Help: "Checkout sessions currently held in memory.",
		},
	)
)

func IncTransition(kind, from, to string) {
	checkoutTransitionsTotal.WithLabelValues(norm(kind), norm(from), norm(to)).Inc()
}

func ObserveFinalize(kind string, success bool, seconds float64) {
	checkoutFinalizeDuration.WithLabelValues(norm(kind), strconv.FormatBool(success)).Observe(seconds)
}

func IncNotification(event, status string) {
	checkoutNotificationsTotal.WithLabelValues(norm(event), norm(status)).Inc()
}

func SetSessionsActive(n int) {
	checkoutSessionsActive.Set(float64(n))
}
