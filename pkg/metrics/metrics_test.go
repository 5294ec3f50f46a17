package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsRecordRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	fixed := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.ObserveDuration("capture-scan", 250*time.Millisecond)
	m.IncSuccess("capture-scan")
	m.IncFailure("capture-scan")
	m.IncFailure("capture-scan")

	mfs := gather(t, reg)
	if got := counterValue(t, mfs, "fulfillment_cron_job_runs_total", map[string]string{"job": "capture-scan", "result": "success"}); got != 1 {
		t.Fatalf("expected one success, got %f", got)
	}
	if got := counterValue(t, mfs, "fulfillment_cron_job_runs_total", map[string]string{"job": "capture-scan", "result": "failure"}); got != 2 {
		t.Fatalf("expected two failures, got %f", got)
	}
	last := findMetric(t, mfs, "fulfillment_cron_job_last_success_timestamp_seconds", map[string]string{"job": "capture-scan"})
	if got := last.GetGauge().GetValue(); got != float64(fixed.Unix()) {
		t.Fatalf("unexpected last success %f", got)
	}
	hist := findMetric(t, mfs, "fulfillment_cron_job_duration_seconds", map[string]string{"job": "capture-scan"})
	if hist.GetHistogram().GetSampleSum() <= 0 {
		t.Fatalf("expected a positive duration sum")
	}
}

func TestCaptureMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCaptureMetrics(reg)
	m.ObserveCapture("captured", 120*time.Millisecond)
	m.ObserveCapture("captured", 80*time.Millisecond)
	m.ObserveCapture("", 0)

	mfs := gather(t, reg)
	if got := counterValue(t, mfs, "fulfillment_capture_attempts_total", map[string]string{"outcome": "captured"}); got != 2 {
		t.Fatalf("expected captured=2, got %f", got)
	}
	if got := counterValue(t, mfs, "fulfillment_capture_attempts_total", map[string]string{"outcome": "unknown"}); got != 1 {
		t.Fatalf("expected unknown=1, got %f", got)
	}
	latency := findMetric(t, mfs, "fulfillment_capture_gateway_seconds", nil)
	if latency.GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("attempts without a gateway call must not be timed")
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var capture *CaptureMetrics
	capture.ObserveCapture("captured", time.Second)
	NewCaptureMetrics(nil).ObserveCapture("captured", time.Second)
	var cron *CronJobMetrics
	cron.IncSuccess("job")
	NewCronJobMetrics(nil).IncFailure("job")
}

func gather(t *testing.T, reg *prometheus.Registry) []*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	return mfs
}

func counterValue(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	return findMetric(t, mfs, name, labels).GetCounter().GetValue()
}

func findMetric(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabels(metric.GetLabel(), labels) {
				return metric
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
