package deliveries

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox/payloads"
)

// step is one edge of the delivery state machine plus the fulfillment
// status it mirrors onto the bound sub orders.
type step struct {
	from        []enums.DeliveryStatus
	to          enums.DeliveryStatus
	stampColumn string
	extra       map[string]any
	fulfillment enums.FulfillmentStatus
	fulfillFrom []enums.FulfillmentStatus
	skipCourier bool
}

type afterHook func(tx *gorm.DB, delivery *models.Delivery, subs []models.SubOrder, now time.Time) error

func (s *service) advance(ctx context.Context, actor access.Actor, deliveryID uuid.UUID, st step) (*models.Delivery, error) {
	return s.transition(ctx, actor, deliveryID, st, nil)
}

func (s *service) transition(ctx context.Context, actor access.Actor, deliveryID uuid.UUID, st step, hook afterHook) (*models.Delivery, error) {
	delivery, err := s.load(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if !st.skipCourier {
		if err := s.requireCourier(actor, delivery); err != nil {
			return nil, err
		}
	}
	order, err := s.orders.FindOrder(ctx, delivery.OrderID)
	if err != nil {
		return nil, notFoundOr(err, "order not found", "load order")
	}
	if order.Status != enums.OrderStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in delivery").
			WithDetails(map[string]any{"status": order.Status})
	}

	from := delivery.Status
	now := s.now()
	updates := map[string]any{"status": st.to, st.stampColumn: now}
	for k, v := range st.extra {
		updates[k] = v
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Transition(ctx, delivery.ID, st.from, updates); err != nil {
			return err
		}
		subs, err := s.boundSubOrders(ctx, tx, delivery)
		if err != nil {
			return err
		}
		repo := s.orders.WithTx(tx)
		for _, sub := range subs {
			if err := repo.TransitionFulfillment(ctx, sub.ID, st.fulfillFrom,
				map[string]any{"fulfillment_status": st.fulfillment},
			); err != nil {
				return err
			}
		}
		if hook != nil {
			if err := hook(tx, delivery, subs, now); err != nil {
				return err
			}
		}
		delivery.Status = st.to
		return s.emitStatus(ctx, tx, actor, delivery, from)
	})
	if err != nil {
		return nil, err
	}

	fresh, err := s.load(ctx, delivery.ID)
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(s.logContext(ctx, fresh), map[string]any{
		"from": from,
		"to":   st.to,
	}), "delivery status changed")
	return fresh, nil
}

// boundSubOrders returns the sub order a delivery covers, or every live sub
// order of the order for deliveries that predate per-vendor splitting.
func (s *service) boundSubOrders(ctx context.Context, tx *gorm.DB, delivery *models.Delivery) ([]models.SubOrder, error) {
	repo := s.orders.WithTx(tx)
	if !delivery.IsLegacy() {
		sub, err := repo.FindSubOrder(ctx, *delivery.SubOrderID)
		if err != nil {
			return nil, notFoundOr(err, "sub order not found", "load sub order")
		}
		return []models.SubOrder{*sub}, nil
	}
	all, err := repo.ListSubOrders(ctx, delivery.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sub orders")
	}
	live := make([]models.SubOrder, 0, len(all))
	for _, sub := range all {
		if sub.FulfillmentStatus != enums.FulfillmentStatusCanceled {
			live = append(live, sub)
		}
	}
	return live, nil
}

func (s *service) requireCourier(actor access.Actor, delivery *models.Delivery) error {
	if err := s.access.Require(actor, access.CapDeliveryAdvance); err != nil {
		return err
	}
	if actor.Role == enums.RoleCourier && delivery.CourierID != actor.UserID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "delivery not assigned to courier")
	}
	return nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	delivery, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "delivery not found", "load delivery")
	}
	return delivery, nil
}

func (s *service) emitStatus(ctx context.Context, tx *gorm.DB, actor access.Actor, delivery *models.Delivery, from enums.DeliveryStatus) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryStatusChanged,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   delivery.ID,
		Actor:         actor.EventRef(),
		Data: payloads.DeliveryStatusChangedEvent{
			DeliveryID: delivery.ID,
			OrderID:    delivery.OrderID,
			SubOrderID: delivery.SubOrderID,
			CourierID:  delivery.CourierID,
			From:       from,
			To:         delivery.Status,
		},
	})
}

func (s *service) logContext(ctx context.Context, delivery *models.Delivery) context.Context {
	ctx = s.logg.WithOrderID(ctx, delivery.OrderID.String())
	return s.logg.WithDeliveryID(ctx, delivery.ID.String())
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
