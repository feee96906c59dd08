package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	importsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthtrack",
		Subsystem: "import",
		Name:      "jobs_total",
		Help:      "Import jobs finished, by terminal status and data source.",
	}, []string{"status", "source"})

	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthtrack",
		Subsystem: "import",
		Name:      "records_committed_total",
		Help:      "Normalized records committed, by metric.",
	}, []string{"metric"})

	skippedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthtrack",
		Subsystem: "import",
		Name:      "records_skipped_total",
		Help:      "Raw records dropped during normalization, by metric.",
	}, []string{"metric"})

	lostBatchesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthtrack",
		Subsystem: "import",
		Name:      "lost_batches_total",
		Help:      "Batches abandoned after exhausting commit retries.",
	})

	durationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "healthtrack",
		Subsystem: "import",
		Name:      "duration_seconds",
		Help:      "Wall time from job creation to terminal status.",
		Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 240, 300},
	}, []string{"source"})

	abandonedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthtrack",
		Subsystem: "import",
		Name:      "abandoned_jobs_total",
		Help:      "Jobs left in processing and closed by the sweeper.",
	})
)

func init() {
	prometheus.MustRegister(importsCounter, recordsCounter, skippedCounter, lostBatchesCounter, durationHistogram, abandonedCounter)
}

func ObserveImport(status, source string, took time.Duration) {
	importsCounter.WithLabelValues(status, source).Inc()
	durationHistogram.WithLabelValues(source).Observe(took.Seconds())
}

func AddRecords(metric string, n int) {
	if n <= 0 {
		return
	}
	recordsCounter.WithLabelValues(metric).Add(float64(n))
}

func AddSkipped(metric string, n int64) {
	if n <= 0 {
		return
	}
	skippedCounter.WithLabelValues(metric).Add(float64(n))
}

func IncLostBatch() {
	lostBatchesCounter.Inc()
}

func IncAbandoned() {
	abandonedCounter.Inc()
}

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
