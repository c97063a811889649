package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the fiscalization pipeline.
type Metrics struct {
	ReceiptsIssued     prometheus.Counter
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionDuration prometheus.Histogram
	RetryQueueDepth    prometheus.Gauge
	RetriesExhausted   prometheus.Counter
	ProtocolRejections prometheus.Counter
}

// New creates and registers all pipeline metrics.
func New() *Metrics {
	return &Metrics{
		ReceiptsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiskal_receipts_issued_total",
			Help: "Total number of receipts issued with a protection code",
		}),
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiskal_submissions_total",
			Help: "Submission attempts by outcome",
		}, []string{"outcome"}),
		SubmissionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiskal_submission_duration_seconds",
			Help:    "Wall time of authority submission attempts",
			Buckets: prometheus.DefBuckets,
		}),
		RetryQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fiskal_retry_queue_depth",
			Help: "Current number of receipts awaiting retry",
		}),
		RetriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiskal_retries_exhausted_total",
			Help: "Receipts whose retry attempts were exhausted",
		}),
		ProtocolRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiskal_protocol_rejections_total",
			Help: "Well-formed authority rejections",
		}),
	}
}

// ObserveSubmission records one submission attempt.
func (m *Metrics) ObserveSubmission(outcome string, seconds float64) {
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
	m.SubmissionDuration.Observe(seconds)
}
