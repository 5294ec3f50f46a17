package app

import (
	"fmt"
	"time"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/capture"
	"github.com/angelmondragon/fulfillment-engine/internal/deliveries"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/payments"
	"github.com/angelmondragon/fulfillment-engine/internal/taxprofiles"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
)

// Params carries the process-level handles every binary already owns.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Gateway  payments.Gateway
	Metrics  capture.Recorder
	WorkerID string
	Clock    func() time.Time
}

// Engine is the assembled set of domain services.
type Engine struct {
	Orders     orders.Service
	Payments   payments.Service
	Capture    capture.Service
	Deliveries deliveries.Service
	Ledger     ledger.Service
	Outbox     *outbox.Service
}

// Build wires repositories and services in dependency order: payments before
// orders (orders confirm through it), capture before deliveries.
func Build(p Params) (*Engine, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	cfg := p.Config
	conn := p.DB.DB()

	checker := access.NewChecker()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), p.Logger, outbox.WithClock(p.Clock))
	ordersRepo := orders.NewRepository(conn)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Orders:              ordersRepo,
		Repo:                payments.NewRepository(conn),
		Tx:                  p.DB,
		Gateway:             p.Gateway,
		Ledger:              ledgerSvc,
		Outbox:              outboxSvc,
		Access:              checker,
		Logger:              p.Logger,
		AuthorizationWindow: cfg.Payments.AuthorizationWindow,
		GatewayTimeout:      cfg.Payments.GatewayTimeout,
		StalePendingAuth:    cfg.Scheduler.StalePendingAuth,
		RetrySchedule:       cfg.Payments.RetrySchedule,
		MaxAttempts:         cfg.Payments.MaxAuthAttempts,
		Clock:               p.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       ordersRepo,
		TaxRepo:    taxprofiles.NewRepository(conn),
		Tx:         p.DB,
		Outbox:     outboxSvc,
		Access:     checker,
		Authorizer: paymentsSvc,
		Releaser:   paymentsSvc,
		Logger:     p.Logger,
		Settings: orders.Settings{
			Currency:          cfg.Payments.Currency,
			PricingConvention: enums.PricingConvention(cfg.Payments.PricingConvention),
			PlatformFeeBps:    cfg.Payments.PlatformFeeBps,
		},
		Clock: p.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	captureSvc, err := capture.NewService(capture.ServiceParams{
		Orders:         ordersRepo,
		Repo:           capture.NewRepository(conn),
		Tx:             p.DB,
		Gateway:        p.Gateway,
		Ledger:         ledgerSvc,
		Outbox:         outboxSvc,
		Access:         checker,
		Logger:         p.Logger,
		Metrics:        p.Metrics,
		WorkerID:       p.WorkerID,
		RetrySchedule:  cfg.Payments.RetrySchedule,
		MaxAttempts:    cfg.Payments.MaxCaptureAttempts,
		LeaseDuration:  cfg.Scheduler.LeaseDuration,
		GatewayTimeout: cfg.Payments.GatewayTimeout,
		Clock:          p.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("capture service: %w", err)
	}

	deliveriesSvc, err := deliveries.NewService(deliveries.ServiceParams{
		Repo:      deliveries.NewRepository(conn),
		Orders:    ordersRepo,
		Completer: ordersSvc,
		Capturer:  captureSvc,
		Tx:        p.DB,
		Outbox:    outboxSvc,
		Access:    checker,
		Logger:    p.Logger,
		Clock:     p.Clock,
	})
	if err != nil {
		return nil, fmt.Errorf("deliveries service: %w", err)
	}

	return &Engine{
		Orders:     ordersSvc,
		Payments:   paymentsSvc,
		Capture:    captureSvc,
		Deliveries: deliveriesSvc,
		Ledger:     ledgerSvc,
		Outbox:     outboxSvc,
	}, nil
}
