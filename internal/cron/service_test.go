package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type fakeLock struct {
	acquired bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "cron-test"})
	registry := NewRegistry(&testJob{name: "success"}, &testJob{name: "fail", err: errors.New("boom")})
	service, err := NewService(ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     &fakeLock{},
		Interval: 0,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx := context.Background()
	if err := service.runCycle(ctx); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if success, ok := jobs[0].(*testJob); ok {
		if success.runs != 1 {
			t.Fatalf("expected success job to run once, ran %d", success.runs)
		}
	} else {
		t.Fatalf("first job type mismatch")
	}
	if failure, ok := jobs[1].(*testJob); ok {
		if failure.runs != 1 {
			t.Fatalf("expected failure job to run once, ran %d", failure.runs)
		}
	} else {
		t.Fatalf("second job type mismatch")
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "capture-scan"}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{acquired: true},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected no runs while lock is held, got %d", job.runs)
	}
}

func TestServiceStopsBetweenJobsOnCancel(t *testing.T) {
	job := &testJob{name: "capture-scan"}
	service, _ := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job skipped, ran %d", job.runs)
	}
}

type panicJob struct{}

func (panicJob) Name() string { return "exploding" }

func (panicJob) Run(context.Context) error { panic("nil sub order") }

type deadlineJob struct {
	sawDeadline bool
}

func (d *deadlineJob) Name() string { return "deadline-job" }

func (d *deadlineJob) Run(ctx context.Context) error {
	_, d.sawDeadline = ctx.Deadline()
	return nil
}

type recorder struct {
	successes, failures []string
}

func (r *recorder) ObserveDuration(string, time.Duration) {}

func (r *recorder) IncSuccess(job string) {
	r.successes = append(r.successes, job)
}

func (r *recorder) IncFailure(job string) {
	r.failures = append(r.failures, job)
}

func TestServiceRecoversPanickingJob(t *testing.T) {
	after := &testJob{name: "after-panic"}
	rec := &recorder{}
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(panicJob{}, after),
		Lock:     &fakeLock{},
		Metrics:  rec,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if after.runs != 1 {
		t.Fatalf("job after the panic should still run, ran %d", after.runs)
	}
	if len(rec.failures) != 1 || rec.failures[0] != "exploding" {
		t.Fatalf("expected panic recorded as failure, got %v", rec.failures)
	}
	if len(rec.successes) != 1 || rec.successes[0] != "after-panic" {
		t.Fatalf("expected one success, got %v", rec.successes)
	}
}

func TestServiceBoundsJobsWithTimeout(t *testing.T) {
	job := &deadlineJob{}
	lock := &fakeLock{}
	service, _ := NewService(ServiceParams{
		Logger:     logger.Nop(),
		Registry:   NewRegistry(job),
		Lock:       lock,
		JobTimeout: time.Second,
	})
	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !job.sawDeadline {
		t.Fatalf("expected job context to carry a deadline")
	}
	if lock.acquired {
		t.Fatalf("expected lock released after the cycle")
	}
}
