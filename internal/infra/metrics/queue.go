package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(queueJobs, leasesRequeuedTotal) }

var (
	queueJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Jobs in the generation queue by state.",
		},
		[]string{"state"}, // 'waiting', 'active', 'delayed', 'completed', 'failed'
	)

	leasesRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_leases_requeued_total",
			Help: "Jobs returned to waiting after their lease expired.",
		},
	)
)

func SetQueueDepth(waiting, active, delayed, completed, failed int64) {
	queueJobs.WithLabelValues("waiting").Set(float64(waiting))
	queueJobs.WithLabelValues("active").Set(float64(active))
	queueJobs.WithLabelValues("delayed").Set(float64(delayed))
	queueJobs.WithLabelValues("completed").Set(float64(completed))
	queueJobs.WithLabelValues("failed").Set(float64(failed))
}

func AddLeasesRequeued(n int) { leasesRequeuedTotal.Add(float64(n)) }
