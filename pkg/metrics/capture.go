package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics counts capture attempts by outcome and times gateway calls.
type CaptureMetrics struct {
	attempts *prometheus.CounterVec
	latency  prometheus.Histogram
}

func NewCaptureMetrics(reg prometheus.Registerer) *CaptureMetrics {
	if reg == nil {
		return &CaptureMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "attempts_total",
		Help:      "Capture attempts grouped by outcome.",
	}, []string{"outcome"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "gateway_seconds",
		Help:      "Latency of gateway capture calls.",
		Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 15, 30},
	})
	reg.MustRegister(attempts, latency)
	return &CaptureMetrics{attempts: attempts, latency: latency}
}

// ObserveCapture records one attempt outcome. took is zero when the gateway
// was never called, e.g. a hold that had already expired.
func (c *CaptureMetrics) ObserveCapture(outcome string, took time.Duration) {
	if c == nil || c.attempts == nil {
		return
	}
	c.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
	if took > 0 {
		c.latency.Observe(took.Seconds())
	}
}
