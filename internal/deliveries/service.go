// Package deliveries runs the courier state machine. Reaching DELIVERED is
// the only trigger for capturing a sub order's hold.
package deliveries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/capture"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
)

// Capturer collects a delivered sub order's hold.
type Capturer interface {
	Capture(ctx context.Context, subOrderID uuid.UUID) (*capture.Result, error)
}

// OrderCompleter completes an order whose sub orders are all delivered.
type OrderCompleter interface {
	CompleteIfFulfilled(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
}

// AssignInput describes a new delivery for one sub order.
type AssignInput struct {
	SubOrderID uuid.UUID
	CourierID  uuid.UUID
	Notes      string
}

// CaptureReport is the synchronous capture outcome for one delivered sub order.
type CaptureReport struct {
	SubOrderID uuid.UUID `json:"sub_order_id"`
	Outcome    string    `json:"outcome"`
	ErrorCode  string    `json:"error_code,omitempty"`
}

// DeliverResult carries the delivered record and what capture did.
type DeliverResult struct {
	Delivery *models.Delivery `json:"delivery"`
	Captures []CaptureReport  `json:"captures"`
}

// outcomeDeferred marks a capture left to the reconciliation scan.
const outcomeDeferred = "deferred"

// Service exposes the delivery state machine.
type Service interface {
	Assign(ctx context.Context, actor access.Actor, input AssignInput) (*models.Delivery, error)
	Pickup(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*models.Delivery, error)
	Transit(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*models.Delivery, error)
	Deliver(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*DeliverResult, error)
	Exception(ctx context.Context, actor access.Actor, deliveryID uuid.UUID, reason string) (*models.Delivery, error)
	Reassign(ctx context.Context, actor access.Actor, deliveryID, courierID uuid.UUID) (*models.Delivery, error)
	Get(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*models.Delivery, error)
	ListMine(ctx context.Context, actor access.Actor) ([]models.Delivery, error)
}

// ServiceParams groups the collaborators of the delivery service.
type ServiceParams struct {
	Repo      Repository
	Orders    orders.Repository
	Completer OrderCompleter
	Capturer  Capturer
	Tx        dbpkg.TxRunner
	Outbox    outbox.Emitter
	Access    access.Checker
	Logger    *logger.Logger
	Clock     func() time.Time
}

type service struct {
	repo      Repository
	orders    orders.Repository
	completer OrderCompleter
	capturer  Capturer
	tx        dbpkg.TxRunner
	outbox    outbox.Emitter
	access    access.Checker
	logg      *logger.Logger
	now       func() time.Time
}

// NewService wires the delivery service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Completer == nil {
		return nil, fmt.Errorf("order completer required")
	}
	if params.Capturer == nil {
		return nil, fmt.Errorf("capturer required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Access == nil {
		return nil, fmt.Errorf("access checker required")
	}
	svc := &service{
		repo:      params.Repo,
		orders:    params.Orders,
		completer: params.Completer,
		capturer:  params.Capturer,
		tx:        params.Tx,
		outbox:    params.Outbox,
		access:    params.Access,
		logg:      params.Logger,
		now:       params.Clock,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

func (s *service) Assign(ctx context.Context, actor access.Actor, input AssignInput) (*models.Delivery, error) {
	if err := s.access.Require(actor, access.CapDeliveryAssign); err != nil {
		return nil, err
	}
	if input.SubOrderID == uuid.Nil || input.CourierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub order and courier are required")
	}
	sub, err := s.orders.FindSubOrder(ctx, input.SubOrderID)
	if err != nil {
		return nil, notFoundOr(err, "sub order not found", "load sub order")
	}
	order, err := s.orders.FindOrder(ctx, sub.OrderID)
	if err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}
	if order.Status != enums.OrderStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "deliveries can only be assigned on confirmed orders").
			WithDetails(map[string]any{"status": order.Status})
	}

	now := s.now()
	delivery := &models.Delivery{
		ID:         uuid.New(),
		OrderID:    sub.OrderID,
		SubOrderID: &sub.ID,
		CourierID:  input.CourierID,
		Status:     enums.DeliveryStatusAssigned,
		AssignedAt: now,
	}
	if notes := strings.TrimSpace(input.Notes); notes != "" {
		delivery.Notes = &notes
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).TransitionFulfillment(ctx, sub.ID,
			[]enums.FulfillmentStatus{enums.FulfillmentStatusPending},
			map[string]any{"fulfillment_status": enums.FulfillmentStatusAssigned},
		); err != nil {
			return err
		}
		if err := s.repo.WithTx(tx).Create(ctx, delivery); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "sub order already has an active delivery")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery")
		}
		return s.emitStatus(ctx, tx, actor, delivery, "")
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logContext(ctx, delivery), "delivery assigned")
	return delivery, nil
}

func (s *service) Pickup(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*models.Delivery, error) {
	return s.advance(ctx, actor, deliveryID, step{
		from:        []enums.DeliveryStatus{enums.DeliveryStatusAssigned},
		to:          enums.DeliveryStatusPickedUp,
		stampColumn: "picked_up_at",
		fulfillment: enums.FulfillmentStatusInDelivery,
		fulfillFrom: []enums.FulfillmentStatus{enums.FulfillmentStatusPending, enums.FulfillmentStatusAssigned},
	})
}

func (s *service) Transit(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*models.Delivery, error) {
	return s.advance(ctx, actor, deliveryID, step{
		from:        []enums.DeliveryStatus{enums.DeliveryStatusPickedUp},
		to:          enums.DeliveryStatusInTransit,
		stampColumn: "in_transit_at",
		fulfillment: enums.FulfillmentStatusInDelivery,
		fulfillFrom: []enums.FulfillmentStatus{enums.FulfillmentStatusPending, enums.FulfillmentStatusAssigned, enums.FulfillmentStatusInDelivery},
	})
}

// Exception is reachable from any non-terminal state and never captures.
func (s *service) Exception(ctx context.Context, actor access.Actor, deliveryID uuid.UUID, reason string) (*models.Delivery, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exception reason required")
	}
	return s.advance(ctx, actor, deliveryID, step{
		from: []enums.DeliveryStatus{
			enums.DeliveryStatusAssigned, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit,
		},
		to:          enums.DeliveryStatusException,
		stampColumn: "exception_at",
		extra:       map[string]any{"exception_reason": reason},
		fulfillment: enums.FulfillmentStatusException,
		fulfillFrom: []enums.FulfillmentStatus{enums.FulfillmentStatusPending, enums.FulfillmentStatusAssigned, enums.FulfillmentStatusInDelivery},
	})
}

// Deliver records the hand-over, moves held payments into the capture queue
// and captures them before returning. Capture problems never undo the
// delivery; they stay on the sub order for the reconciliation scan.
func (s *service) Deliver(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*DeliverResult, error) {
	var queued []uuid.UUID
	delivery, err := s.transition(ctx, actor, deliveryID, step{
		from:        []enums.DeliveryStatus{enums.DeliveryStatusInTransit},
		to:          enums.DeliveryStatusDelivered,
		stampColumn: "delivered_at",
		fulfillment: enums.FulfillmentStatusDelivered,
		fulfillFrom: []enums.FulfillmentStatus{enums.FulfillmentStatusPending, enums.FulfillmentStatusAssigned, enums.FulfillmentStatusInDelivery},
	}, func(tx *gorm.DB, delivery *models.Delivery, subs []models.SubOrder, now time.Time) error {
		repo := s.orders.WithTx(tx)
		for _, sub := range subs {
			if err := repo.UpdateSubOrder(ctx, sub.ID, map[string]any{"delivered_at": now}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp sub order delivery")
			}
			if sub.PaymentStatus != enums.PaymentStatusAuthorized {
				continue
			}
			err := repo.TransitionPayment(ctx, sub.ID,
				[]enums.PaymentStatus{enums.PaymentStatusAuthorized},
				map[string]any{
					"payment_status":        enums.PaymentStatusAuthorizedPendingCapture,
					"next_payment_retry_at": now,
				},
			)
			switch {
			case err == nil:
				queued = append(queued, sub.ID)
			case dbpkg.IsTransitionConflict(err):
				// hold expired or was released meanwhile; the operator queue has it
			default:
				return err
			}
		}
		_, err := s.completer.CompleteIfFulfilled(ctx, tx, delivery.OrderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &DeliverResult{Delivery: delivery, Captures: make([]CaptureReport, 0, len(queued))}
	for _, subID := range queued {
		report := CaptureReport{SubOrderID: subID}
		res, err := s.capturer.Capture(ctx, subID)
		if err != nil {
			report.Outcome = outcomeDeferred
			report.ErrorCode = string(pkgerrors.CodeOf(err))
			s.logg.Error(s.logg.WithSubOrderID(s.logContext(ctx, delivery), subID.String()), "capture after delivery failed", err)
		} else {
			report.Outcome = string(res.Outcome)
			report.ErrorCode = res.ErrorCode
		}
		result.Captures = append(result.Captures, report)
	}
	return result, nil
}

// Reassign hands an EXCEPTION delivery to a courier and restarts it at ASSIGNED.
func (s *service) Reassign(ctx context.Context, actor access.Actor, deliveryID, courierID uuid.UUID) (*models.Delivery, error) {
	if err := s.access.Require(actor, access.CapDeliveryReassign); err != nil {
		return nil, err
	}
	if courierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier required")
	}
	return s.transition(ctx, actor, deliveryID, step{
		from:        []enums.DeliveryStatus{enums.DeliveryStatusException},
		to:          enums.DeliveryStatusAssigned,
		stampColumn: "assigned_at",
		extra: map[string]any{
			"courier_id":       courierID,
			"picked_up_at":     nil,
			"in_transit_at":    nil,
			"exception_at":     nil,
			"exception_reason": nil,
		},
		fulfillment: enums.FulfillmentStatusAssigned,
		fulfillFrom: []enums.FulfillmentStatus{enums.FulfillmentStatusException},
		skipCourier: true,
	}, nil)
}

func (s *service) Get(ctx context.Context, actor access.Actor, deliveryID uuid.UUID) (*models.Delivery, error) {
	delivery, err := s.load(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if err := s.access.Require(actor, access.CapOrderView); err != nil {
		return nil, err
	}
	switch {
	case actor.Privileged():
	case actor.Role == enums.RoleCourier:
		if delivery.CourierID != actor.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "delivery not assigned to courier")
		}
	default:
		order, err := s.orders.FindOrder(ctx, delivery.OrderID)
		if err != nil {
			return nil, notFoundOr(err, "order not found", "load order")
		}
		if err := s.access.RequireOwner(actor, access.CapOrderView, order.ClientID); err != nil {
			return nil, err
		}
	}
	return delivery, nil
}

// ListMine returns the courier's deliveries that are still in progress.
func (s *service) ListMine(ctx context.Context, actor access.Actor) ([]models.Delivery, error) {
	if err := s.access.Require(actor, access.CapDeliveryAdvance); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListActiveForCourier(ctx, actor.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deliveries")
	}
	return rows, nil
}
