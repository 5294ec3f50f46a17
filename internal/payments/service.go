// Package payments drives the per-SubOrder authorization state machine:
// placing holds, releasing them, re-authorizing after failures and applying
// gateway webhooks.
package payments

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
)

const (
	defaultGatewayTimeout   = 15 * time.Second
	defaultAuthWindow       = 7 * 24 * time.Hour
	defaultStalePendingAuth = 10 * time.Minute
	defaultMaxAuthAttempts  = 5
)

// Service exposes the authorization state machine.
type Service interface {
	Authorize(ctx context.Context, actor access.Actor, subOrderID uuid.UUID) (*orders.AuthorizationOutcome, error)
	AuthorizeOrder(ctx context.Context, actor access.Actor, orderID uuid.UUID) ([]orders.AuthorizationOutcome, error)
	Release(ctx context.Context, actor access.Actor, subOrderID uuid.UUID, reason string) (*models.SubOrder, error)
	ReleaseForCancellation(ctx context.Context, subOrderID uuid.UUID, reason string) error
	Reauthorize(ctx context.Context, actor access.Actor, subOrderID uuid.UUID) (*orders.AuthorizationOutcome, error)
	ExpireAuthorizations(ctx context.Context, limit int) (int, error)
	SweepAuthorizations(ctx context.Context, limit int) (SweepResult, error)
	HandleWebhook(ctx context.Context, event *WebhookEvent) error
}

// ServiceParams groups the collaborators of the payments service.
type ServiceParams struct {
	Orders              orders.Repository
	Repo                Repository
	Tx                  dbpkg.TxRunner
	Gateway             Gateway
	Ledger              ledger.Service
	Outbox              outbox.Emitter
	Access              access.Checker
	Logger              *logger.Logger
	AuthorizationWindow time.Duration
	GatewayTimeout      time.Duration
	StalePendingAuth    time.Duration
	// RetrySchedule spaces sweep retries after transient gateway failures.
	RetrySchedule []time.Duration
	// MaxAttempts fails the hold once this many transient failures pile up.
	MaxAttempts int
	Clock       func() time.Time
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
	authWindow     time.Duration
	gatewayTimeout time.Duration
	staleAfter     time.Duration
	schedule       []time.Duration
	maxAttempts    int
	now            func() time.Time
}

// NewService validates and wires the payments service.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
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
	svc := &service{
		orders:         params.Orders,
		repo:           params.Repo,
		tx:             params.Tx,
		gateway:        params.Gateway,
		ledger:         params.Ledger,
		outbox:         params.Outbox,
		access:         params.Access,
		logg:           params.Logger,
		authWindow:     params.AuthorizationWindow,
		gatewayTimeout: params.GatewayTimeout,
		staleAfter:     params.StalePendingAuth,
		schedule:       params.RetrySchedule,
		maxAttempts:    params.MaxAttempts,
		now:            params.Clock,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.authWindow <= 0 {
		svc.authWindow = defaultAuthWindow
	}
	if svc.gatewayTimeout <= 0 {
		svc.gatewayTimeout = defaultGatewayTimeout
	}
	if svc.staleAfter <= 0 {
		svc.staleAfter = defaultStalePendingAuth
	}
	if len(svc.schedule) == 0 {
		svc.schedule = DefaultRetrySchedule
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAuthAttempts
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

func (s *service) loadOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.FindOrder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// requireAuthorize admits payment operators, the system actor and the order's
// own client confirming their order.
func (s *service) requireAuthorize(actor access.Actor, order *models.Order) error {
	if err := s.access.Require(actor, access.CapPaymentAuthorize); err == nil {
		return nil
	}
	return s.access.RequireOwner(actor, access.CapOrderConfirm, order.ClientID)
}

func (s *service) subLogContext(ctx context.Context, sub *models.SubOrder) context.Context {
	ctx = s.logg.WithOrderID(ctx, sub.OrderID.String())
	return s.logg.WithSubOrderID(ctx, sub.ID.String())
}

func (s *service) emitPayment(ctx context.Context, tx *gorm.DB, actor access.Actor, eventType enums.OutboxEventType, sub *models.SubOrder, status enums.PaymentStatus, errorCode string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Actor:         actor.EventRef(),
		Data:          payloads.NewPaymentEvent(sub, status, errorCode),
	})
}

func (s *service) emitClientUpdate(ctx context.Context, tx *gorm.DB, actor access.Actor, sub *models.SubOrder, clientID uuid.UUID, errorCode string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventClientUpdateRequested,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Actor:         actor.EventRef(),
		Data: payloads.ClientUpdateRequestedEvent{
			OrderID:    sub.OrderID,
			SubOrderID: sub.ID,
			ClientID:   clientID,
			ErrorCode:  errorCode,
		},
	})
}

func outcomeFor(sub *models.SubOrder) orders.AuthorizationOutcome {
	outcome := orders.AuthorizationOutcome{
		SubOrderID: sub.ID,
		VendorID:   sub.VendorID,
		Status:     sub.PaymentStatus,
		HoldRef:    sub.HoldRef(),
	}
	if sub.LastPaymentErrorCode != nil {
		outcome.ErrorCode = *sub.LastPaymentErrorCode
	}
	if sub.LastPaymentErrorMsg != nil {
		outcome.ErrorMessage = *sub.LastPaymentErrorMsg
	}
	return outcome
}

// GatewayErrorCode picks the code recorded on a sub order for a gateway error.
func GatewayErrorCode(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			if code, ok := details["gateway_code"].(string); ok && code != "" {
				return code
			}
		}
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodePaymentDeclined:
		return ErrCodePaymentDeclined
	case pkgerrors.CodeAuthorizationExpired:
		return ErrCodeAuthorizationExpired
	}
	if pkgerrors.IsRetryable(err) {
		return ErrCodeGatewayUnavailable
	}
	return string(pkgerrors.CodeOf(err))
}

func holdKey(sub *models.SubOrder) string {
	return fmt.Sprintf("auth-%s-%d", sub.ID, sub.AuthorizationSeq)
}
