package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(dbPoolStats, redisPoolStats, pendingIntentOpsTotal, rateLimitTotal)
}

var (
	// state: total|idle|in_use
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_connections",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"},
	)

	redisPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "redis_pool_connections",
			Help: "Redis pool connections by state.",
		},
		[]string{"state"},
	)

	// op=save|take|clear, result=ok|hit|miss|error
	pendingIntentOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_intent_ops_total",
			Help: "Pending intent store operations by result.",
		},
		[]string{"op", "result"},
	)

	rateLimitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_rate_limit_total",
			Help: "Checkout creation rate limit decisions.",
		},
		[]string{"decision"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func SetRedisPoolStats(total, idle uint32) {
	redisPoolStats.WithLabelValues("total").Set(float64(total))
	redisPoolStats.WithLabelValues("idle").Set(float64(idle))
}

func IncPendingIntent(op, result string) {
	pendingIntentOpsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}

func IncRateLimit(decision string) {
	rateLimitTotal.WithLabelValues(norm(decision)).Inc()
}
