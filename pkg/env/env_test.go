package env

import "testing"

func TestFirstPrefersEarlierKeys(t *testing.T) {
	t.Setenv("FULFILLMENT_WORKER_ID", "")
	t.Setenv("DYNO", "worker.2")
	if got := First("local", "FULFILLMENT_WORKER_ID", "DYNO"); got != "worker.2" {
		t.Fatalf("expected DYNO fallback, got %q", got)
	}

	t.Setenv("FULFILLMENT_WORKER_ID", "  cron-a ")
	if got := First("local", "FULFILLMENT_WORKER_ID", "DYNO"); got != "cron-a" {
		t.Fatalf("expected trimmed explicit id, got %q", got)
	}
}

func TestGetFallsBack(t *testing.T) {
	t.Setenv("LOG_FORMAT", " ")
	if got := Get("LOG_FORMAT", "json"); got != "json" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
