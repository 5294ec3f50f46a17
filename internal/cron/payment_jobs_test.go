package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/fulfillment-engine/internal/capture"
	"github.com/angelmondragon/fulfillment-engine/internal/payments"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type fakeScanner struct {
	limit int
	res   capture.ScanResult
	err   error
	calls []string
}

func (f *fakeScanner) Scan(_ context.Context, limit int) (capture.ScanResult, error) {
	f.limit = limit
	f.calls = append(f.calls, "scan")
	return f.res, f.err
}

type fakeSweeper struct {
	calls    *[]string
	sweepErr error
	expired  int
}

func (f *fakeSweeper) SweepAuthorizations(context.Context, int) (payments.SweepResult, error) {
	*f.calls = append(*f.calls, "sweep")
	return payments.SweepResult{Reset: 1, Attempted: 1, Authorized: 1}, f.sweepErr
}

func (f *fakeSweeper) ExpireAuthorizations(context.Context, int) (int, error) {
	*f.calls = append(*f.calls, "expire")
	return f.expired, nil
}

func TestPaymentJobsRunInOrder(t *testing.T) {
	scanner := &fakeScanner{res: capture.ScanResult{Due: 2, Captured: 2}}
	sweeper := &fakeSweeper{calls: &scanner.calls, expired: 1}
	jobs, err := NewPaymentJobs(PaymentJobParams{
		Logger:   logger.Nop(),
		Capture:  scanner,
		Payments: sweeper,
	})
	if err != nil {
		t.Fatalf("NewPaymentJobs: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(jobs...),
		Lock:     &fakeLock{},
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	want := []string{"sweep", "expire", "scan"}
	if len(scanner.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, scanner.calls)
	}
	for i := range want {
		if scanner.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, scanner.calls)
		}
	}
	if scanner.limit != defaultBatchSize {
		t.Fatalf("expected default batch %d, got %d", defaultBatchSize, scanner.limit)
	}
}

func TestPaymentJobFailureDoesNotStopCapture(t *testing.T) {
	scanner := &fakeScanner{}
	sweeper := &fakeSweeper{calls: &scanner.calls, sweepErr: errors.New("gateway down")}
	jobs, _ := NewPaymentJobs(PaymentJobParams{
		Logger:    logger.Nop(),
		Capture:   scanner,
		Payments:  sweeper,
		BatchSize: 10,
	})
	if err := jobs[0].Run(context.Background()); err == nil {
		t.Fatal("expected sweep error to surface")
	}
	svc, _ := NewService(ServiceParams{Logger: logger.Nop(), Registry: NewRegistry(jobs...), Lock: &fakeLock{}})
	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if scanner.limit != 10 {
		t.Fatalf("expected capture scan to run with batch 10, got %d", scanner.limit)
	}
}

func TestNewPaymentJobsValidates(t *testing.T) {
	if _, err := NewPaymentJobs(PaymentJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error for missing services")
	}
}
