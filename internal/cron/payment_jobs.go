package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fulfillment-engine/internal/capture"
	"github.com/angelmondragon/fulfillment-engine/internal/payments"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

const defaultBatchSize = 50

type captureScanner interface {
	Scan(ctx context.Context, limit int) (capture.ScanResult, error)
}

type authorizationSweeper interface {
	SweepAuthorizations(ctx context.Context, limit int) (payments.SweepResult, error)
	ExpireAuthorizations(ctx context.Context, limit int) (int, error)
}

// PaymentJobParams configure the payment maintenance jobs.
type PaymentJobParams struct {
	Logger    *logger.Logger
	Capture   captureScanner
	Payments  authorizationSweeper
	BatchSize int
}

// NewPaymentJobs returns the jobs that keep holds moving: the sweep first so
// newly authorized holds are visible, expiry second, capture last.
func NewPaymentJobs(params PaymentJobParams) ([]Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Capture == nil {
		return nil, fmt.Errorf("capture service required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return []Job{
		&authorizationSweepJob{logg: params.Logger, svc: params.Payments, batch: batch},
		&authorizationExpiryJob{logg: params.Logger, svc: params.Payments, batch: batch},
		&captureScanJob{logg: params.Logger, svc: params.Capture, batch: batch},
	}, nil
}

type authorizationSweepJob struct {
	logg  *logger.Logger
	svc   authorizationSweeper
	batch int
}

func (j *authorizationSweepJob) Name() string { return "authorization-sweep" }

func (j *authorizationSweepJob) Run(ctx context.Context) error {
	res, err := j.svc.SweepAuthorizations(ctx, j.batch)
	if res.Reset > 0 || res.Attempted > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"reset":      res.Reset,
			"attempted":  res.Attempted,
			"authorized": res.Authorized,
		}), "authorization sweep")
	}
	return err
}

type authorizationExpiryJob struct {
	logg  *logger.Logger
	svc   authorizationSweeper
	batch int
}

func (j *authorizationExpiryJob) Name() string { return "authorization-expiry" }

func (j *authorizationExpiryJob) Run(ctx context.Context) error {
	expired, err := j.svc.ExpireAuthorizations(ctx, j.batch)
	if expired > 0 {
		j.logg.Warn(j.logg.WithField(ctx, "expired", expired), "authorizations expired before delivery")
	}
	return err
}

type captureScanJob struct {
	logg  *logger.Logger
	svc   captureScanner
	batch int
}

func (j *captureScanJob) Name() string { return "capture-scan" }

func (j *captureScanJob) Run(ctx context.Context) error {
	res, err := j.svc.Scan(ctx, j.batch)
	if res.Due > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"due":      res.Due,
			"captured": res.Captured,
			"failed":   res.Failed,
			"skipped":  res.Skipped,
		}), "capture scan")
	}
	return err
}
