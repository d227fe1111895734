package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		tasksAdmittedTotal,
		tasksRejectedTotal,
		tasksFinishedTotal,
		jobRetriesTotal,
		taskDurationSeconds,
	)
}

var (
	tasksAdmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasks_admitted_total",
			Help: "Tasks created by admission.",
		},
	)

	tasksRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_rejected_total",
			Help: "Submissions rejected at admission, by reason.",
		},
		[]string{"reason"}, // 'validation', 'quota', 'rate_limited', 'enqueue'
	)

	tasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_finished_total",
			Help: "Tasks reaching a terminal state, by status.",
		},
		[]string{"status"}, // 'completed', 'failed'
	)

	jobRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "job_retries_total",
			Help: "Jobs scheduled for another attempt after a failure.",
		},
	)

	taskDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "task_processing_seconds",
			Help:    "Wall time of a single job attempt.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 11),
		},
	)
)

func IncTaskAdmitted() { tasksAdmittedTotal.Inc() }

func IncTaskRejected(reason string) {
	tasksRejectedTotal.WithLabelValues(norm(reason)).Inc()
}

func IncTaskFinished(status string) {
	tasksFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func IncJobRetry() { jobRetriesTotal.Inc() }

func ObserveTaskAttempt(seconds float64) { taskDurationSeconds.Observe(seconds) }
