package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the worker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Verifications        *prometheus.CounterVec
	OCRAttempts          prometheus.Counter
	EarlyExits           prometheus.Counter
	ExtractionDuration   prometheus.Histogram
	ExtractionConfidence prometheus.Histogram
	Jobs                 *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docverify_verifications_total",
			Help: "Verification outcomes by status",
		}, []string{"status"}),
		OCRAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "docverify_ocr_attempts_total",
			Help: "OCR attempts run across all extractions",
		}),
		EarlyExits: f.NewCounter(prometheus.CounterOpts{
			Name: "docverify_early_exits_total",
			Help: "Extractions that ended after the first attempt",
		}),
		ExtractionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docverify_extraction_duration_seconds",
			Help:    "Time spent extracting an identifier from one document",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		ExtractionConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docverify_extraction_confidence_percent",
			Help:    "Consensus confidence of extracted identifiers",
			Buckets: []float64{10, 25, 50, 75, 90, 100},
		}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docverify_jobs_total",
			Help: "Queue jobs by result",
		}, []string{"result"}),
	}
}

// ObserveVerification counts one outcome.
func (m *Metrics) ObserveVerification(status string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(status).Inc()
}

// ObserveExtraction records a finished extraction.
func (m *Metrics) ObserveExtraction(attempts int, earlyExit bool, found bool, confidence float64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OCRAttempts.Add(float64(attempts))
	if earlyExit {
		m.EarlyExits.Inc()
	}
	if found {
		m.ExtractionConfidence.Observe(confidence)
	}
	m.ExtractionDuration.Observe(elapsed.Seconds())
}

// ObserveJob counts a queue job result (completed, failed, retried).
func (m *Metrics) ObserveJob(result string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(result).Inc()
}
