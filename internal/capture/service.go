// Package capture turns delivered holds into captured payments, schedules
// retries for transient gateway failures and exposes the operator overrides
// and attention queue.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

const (
	defaultMaxAttempts    = 6
	defaultLease          = 2 * time.Minute
	defaultGatewayTimeout = 15 * time.Second
	defaultScanLimit      = 50
)

// Gateway is the slice of the payment processor the capture engine needs.
type Gateway interface {
	CompletePayment(ctx context.Context, paymentID string) (*square.Payment, error)
}

// Recorder receives one observation per gateway attempt.
type Recorder interface {
	ObserveCapture(outcome string, took time.Duration)
}

// Service exposes capture, the reconciliation scan and operator overrides.
type Service interface {
	Capture(ctx context.Context, subOrderID uuid.UUID) (*Result, error)
	RetryNow(ctx context.Context, actor access.Actor, subOrderID uuid.UUID) (*Result, error)
	MarkRequiresClientUpdate(ctx context.Context, actor access.Actor, subOrderID uuid.UUID, reason string) (*models.SubOrder, error)
	ClearRequiresClientUpdate(ctx context.Context, actor access.Actor, subOrderID uuid.UUID) (*models.SubOrder, error)
	ListAttention(ctx context.Context, actor access.Actor, filters AttentionFilters, params pagination.Params) (*AttentionList, error)
	Scan(ctx context.Context, limit int) (ScanResult, error)
}

// ServiceParams groups the collaborators of the capture engine.
type ServiceParams struct {
	Orders         orders.Repository
	Repo           Repository
	Tx             dbpkg.TxRunner
	Gateway        Gateway
	Ledger         ledger.Service
	Outbox         outbox.Emitter
	Access         access.Checker
	Logger         *logger.Logger
	Metrics        Recorder
	WorkerID       string
	RetrySchedule  []time.Duration
	MaxAttempts    int
	LeaseDuration  time.Duration
	GatewayTimeout time.Duration
	Clock          func() time.Time
}

type service struct {
	orders         orders.Repository
	repo           Repository
	tx             dbpkg.TxRunner
	gateway        Gateway
	ledger         ledger.Service
	outbox         outbox.Emitter
	access         access.Checker
	logg           *logger.Logger
	metrics        Recorder
	worker         string
	schedule       []time.Duration
	maxAttempts    int
	lease          time.Duration
	gatewayTimeout time.Duration
	now            func() time.Time
}

type nopRecorder struct{}

func (nopRecorder) ObserveCapture(string, time.Duration) {}

// NewService validates and wires the capture engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("capture repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Access == nil {
		return nil, fmt.Errorf("access checker required")
	}
	if params.WorkerID == "" {
		return nil, fmt.Errorf("worker id required")
	}
	svc := &service{
		orders:         params.Orders,
		repo:           params.Repo,
		tx:             params.Tx,
		gateway:        params.Gateway,
		ledger:         params.Ledger,
		outbox:         params.Outbox,
		access:         params.Access,
		logg:           params.Logger,
		metrics:        params.Metrics,
		worker:         params.WorkerID,
		schedule:       params.RetrySchedule,
		maxAttempts:    params.MaxAttempts,
		lease:          params.LeaseDuration,
		gatewayTimeout: params.GatewayTimeout,
		now:            params.Clock,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.metrics == nil {
		svc.metrics = nopRecorder{}
	}
	if len(svc.schedule) == 0 {
		svc.schedule = DefaultSchedule
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.gatewayTimeout <= 0 {
		svc.gatewayTimeout = defaultGatewayTimeout
	}
	if svc.lease <= 0 {
		svc.lease = defaultLease
	}
	if svc.lease <= svc.gatewayTimeout {
		return nil, fmt.Errorf("lease duration must exceed the gateway timeout")
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

func (s *service) loadSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub order id required")
	}
	sub, err := s.orders.FindSubOrder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sub order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sub order")
	}
	return sub, nil
}

func (s *service) subLogContext(ctx context.Context, sub *models.SubOrder) context.Context {
	ctx = s.logg.WithOrderID(ctx, sub.OrderID.String())
	return s.logg.WithSubOrderID(ctx, sub.ID.String())
}

func (s *service) emitPayment(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, sub *models.SubOrder, errorCode string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Actor:         access.System().EventRef(),
		Data:          payloads.NewPaymentEvent(sub, sub.PaymentStatus, errorCode),
	})
}

func (s *service) emitClientUpdate(ctx context.Context, tx *gorm.DB, actor access.Actor, sub *models.SubOrder, errorCode string) error {
	order, err := s.orders.WithTx(tx).FindOrder(ctx, sub.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventClientUpdateRequested,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Actor:         actor.EventRef(),
		Data: payloads.ClientUpdateRequestedEvent{
			OrderID:    sub.OrderID,
			SubOrderID: sub.ID,
			ClientID:   order.ClientID,
			ErrorCode:  errorCode,
		},
	})
}

func resultFor(sub *models.SubOrder, outcome Outcome) *Result {
	result := &Result{
		SubOrderID:    sub.ID,
		OrderID:       sub.OrderID,
		Outcome:       outcome,
		PaymentStatus: sub.PaymentStatus,
		AttemptCount:  sub.PaymentAttemptCount,
		NextRetryAt:   sub.NextPaymentRetryAt,
	}
	if sub.LastPaymentErrorCode != nil {
		result.ErrorCode = *sub.LastPaymentErrorCode
	}
	if sub.LastPaymentErrorMsg != nil {
		result.ErrorMessage = *sub.LastPaymentErrorMsg
	}
	if sub.SettlementRef != nil {
		result.CaptureRef = *sub.SettlementRef
	}
	return result
}
