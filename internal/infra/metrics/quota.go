package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(quotaReservationsTotal, quotaCompensationsTotal) }

var (
	quotaReservationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_reservations_total",
			Help: "Quota units reserved at admission.",
		},
	)

	quotaCompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_compensations_total",
			Help: "Quota units returned, by reason.",
		},
		[]string{"reason"}, // 'enqueue_failed', 'terminal_failure', 'cancelled'
	)
)

func IncQuotaReserved() { quotaReservationsTotal.Inc() }

func IncQuotaCompensated(reason string) {
	quotaCompensationsTotal.WithLabelValues(norm(reason)).Inc()
}
