package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		generationCallsTotal,
		generationLatencySeconds,
		storageUploadsTotal,
	)
}

var (
	generationCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_generation_calls_total",
			Help: "Model service calls per provider/model and outcome.",
		},
		[]string{"provider", "model", "success"},
	)

	generationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_generation_latency_seconds",
			Help:    "Model service call latency.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		},
		[]string{"provider", "model"},
	)

	storageUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_uploads_total",
			Help: "Object storage uploads by kind (image/thumbnail) and outcome.",
		},
		[]string{"kind", "success"},
	)
)

func ObserveGeneration(provider, model string, d time.Duration, success bool) {
	generationCallsTotal.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).Inc()
	if success {
		generationLatencySeconds.WithLabelValues(norm(provider), norm(model)).Observe(d.Seconds())
	}
}

func IncStorageUpload(kind string, success bool) {
	storageUploadsTotal.WithLabelValues(norm(kind), strconv.FormatBool(success)).Inc()
}
