package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveVerification("verified")
	m.ObserveVerification("verified")
	m.ObserveVerification("failed")
	m.ObserveExtraction(1, true, true, 100, 2*time.Second)
	m.ObserveExtraction(30, false, false, 0, 20*time.Second)
	m.ObserveJob("completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Verifications.WithLabelValues("verified")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("failed")))
	assert.Equal(t, 31.0, testutil.ToFloat64(m.OCRAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EarlyExits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Jobs.WithLabelValues("completed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveVerification("verified")
		m.ObserveExtraction(3, false, true, 50, time.Second)
		m.ObserveJob("failed")
	})
}
