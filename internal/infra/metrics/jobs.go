package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		activationFailuresUnresolved,
		jobRunsTotal,
		workerQueueDepth,
		workerTasksTotal,
	)
}

var (
	activationFailuresUnresolved = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_activation_failures_unresolved",
			Help: "Captured charges whose activation failed and support has not resolved yet.",
		},
	)

	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_job_runs_total",
			Help: "Background job runs, labeled by job and status.",
		},
		[]string{"job", "status"}, // 'ok', 'error'
	)
)

func SetActivationFailuresUnresolved(n int) {
	activationFailuresUnresolved.Set(float64(n))
}

func IncJobRun(job, status string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(status)).Inc()
}

var (
	workerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Advisory tasks waiting for a worker.",
		},
	)

	workerTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_total",
			Help: "Advisory tasks, labeled by status.",
		},
		[]string{"status"}, // 'ok', 'error', 'rejected'
	)
)

func SetWorkerQueueDepth(n int) {
	workerQueueDepth.Set(float64(n))
}

func IncWorkerTask(status string) {
	workerTasksTotal.WithLabelValues(norm(status)).Inc()
}
