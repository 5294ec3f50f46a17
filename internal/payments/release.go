package payments

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

// Release voids an undelivered hold on operator request.
func (s *service) Release(ctx context.Context, actor access.Actor, subOrderID uuid.UUID, reason string) (*models.SubOrder, error) {
	if err := s.access.Require(actor, access.CapPaymentOverride); err != nil {
		return nil, err
	}
	sub, err := s.loadSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	if err := s.release(ctx, actor, sub, reason); err != nil {
		return nil, err
	}
	return sub, nil
}

// ReleaseForCancellation is invoked after an order cancel commits.
func (s *service) ReleaseForCancellation(ctx context.Context, subOrderID uuid.UUID, reason string) error {
	sub, err := s.loadSubOrder(ctx, subOrderID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "order canceled"
	}
	return s.release(ctx, access.System(), sub, reason)
}

func (s *service) release(ctx context.Context, actor access.Actor, sub *models.SubOrder, reason string) error {
	switch sub.PaymentStatus {
	case enums.PaymentStatusReleased:
		return nil
	case enums.PaymentStatusAuthorized:
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only undelivered authorized holds can be released").
			WithDetails(map[string]any{"payment_status": sub.PaymentStatus})
	}
	logCtx := s.subLogContext(ctx, sub)

	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	_, err := s.gateway.CancelPayment(gatewayCtx, sub.HoldRef())
	cancel()
	if err != nil {
		s.logg.Error(logCtx, "gateway release failed", err)
		return err
	}

	now := s.now()
	reason = strings.TrimSpace(reason)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).TransitionPayment(ctx, sub.ID,
			[]enums.PaymentStatus{enums.PaymentStatusAuthorized},
			map[string]any{"payment_status": enums.PaymentStatusReleased, "released_at": now},
		); err != nil {
			return err
		}
		sub.PaymentStatus = enums.PaymentStatusReleased
		sub.ReleasedAt = &now

		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			SubOrder:    sub,
			ActorID:     actor.UserRef(),
			Type:        enums.LedgerEventHoldReleased,
			AmountCents: sub.GrossTotalCents,
			GatewayRef:  sub.HoldRef(),
			Metadata:    map[string]any{"reason": reason},
		}); err != nil {
			return err
		}
		return s.emitPayment(ctx, tx, actor, enums.EventPaymentReleased, sub, enums.PaymentStatusReleased, "")
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(logCtx, "reason", reason), "hold released")
	return nil
}

// Reauthorize resets a failed sub order and places a fresh hold under a new
// idempotency key.
func (s *service) Reauthorize(ctx context.Context, actor access.Actor, subOrderID uuid.UUID) (*orders.AuthorizationOutcome, error) {
	if err := s.access.Require(actor, access.CapPaymentOverride); err != nil {
		return nil, err
	}
	sub, err := s.loadSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	order, err := s.loadOrder(ctx, sub.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not confirmed")
	}
	if sub.FulfillmentStatus == enums.FulfillmentStatusCanceled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "sub order is canceled")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.orders.WithTx(tx).TransitionPayment(ctx, sub.ID,
			[]enums.PaymentStatus{enums.PaymentStatusFailed},
			map[string]any{
				"payment_status":             enums.PaymentStatusNone,
				"authorization_seq":          gorm.Expr("authorization_seq + 1"),
				"payment_hold_ref":           nil,
				"authorized_at":              nil,
				"authorization_expires_at":   nil,
				"last_payment_error_code":    nil,
				"last_payment_error_message": nil,
				"next_payment_retry_at":      nil,
				"payment_attempt_count":      0,
				"requires_client_update":     false,
			},
		)
	})
	if err != nil {
		return nil, err
	}

	fresh, err := s.loadSubOrder(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.subLogContext(ctx, fresh), "sub order reset for reauthorization")
	outcome, err := s.authorizeSub(ctx, actor, order, fresh)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}
