package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

// Authorize places the hold for one SubOrder. Calling it again for a sub
// order that already left NONE reports the current state without touching
// the gateway.
func (s *service) Authorize(ctx context.Context, actor access.Actor, subOrderID uuid.UUID) (*orders.AuthorizationOutcome, error) {
	sub, err := s.loadSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	order, err := s.loadOrder(ctx, sub.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorize(actor, order); err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not confirmed").
			WithDetails(map[string]any{"status": order.Status})
	}
	outcome, err := s.authorizeSub(ctx, actor, order, sub)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// AuthorizeOrder attempts a hold for every SubOrder of a confirmed order.
// Each vendor is independent: one failure never blocks the others.
func (s *service) AuthorizeOrder(ctx context.Context, actor access.Actor, orderID uuid.UUID) ([]orders.AuthorizationOutcome, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAuthorize(actor, order); err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not confirmed").
			WithDetails(map[string]any{"status": order.Status})
	}
	subs, err := s.orders.ListSubOrders(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sub orders")
	}

	outcomes := make([]orders.AuthorizationOutcome, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		outcome, err := s.authorizeSub(ctx, actor, order, sub)
		if err != nil {
			outcome = outcomeFor(sub)
			outcome.ErrorCode = string(pkgerrors.CodeOf(err))
			outcome.ErrorMessage = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *service) authorizeSub(ctx context.Context, actor access.Actor, order *models.Order, sub *models.SubOrder) (orders.AuthorizationOutcome, error) {
	if sub.PaymentStatus != enums.PaymentStatusNone || sub.FulfillmentStatus == enums.FulfillmentStatusCanceled {
		return outcomeFor(sub), nil
	}
	logCtx := s.subLogContext(ctx, sub)

	method, err := s.repo.FindDefaultPaymentMethod(ctx, order.ClientID)
	if err != nil {
		return outcomeFor(sub), pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
	}
	if method == nil {
		return s.failBeforeGateway(logCtx, actor, order, sub, ErrCodePaymentMethodMissing, "client has no payment method on file", true)
	}
	account, err := s.repo.FindVendorAccount(ctx, sub.VendorID)
	if err != nil {
		return outcomeFor(sub), pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor account")
	}
	if account == nil {
		return s.failBeforeGateway(logCtx, actor, order, sub, ErrCodeVendorAccountMissing, "vendor has no payment account", false)
	}
	if !account.Payable {
		return s.failBeforeGateway(logCtx, actor, order, sub, ErrCodeVendorNotPayable, "vendor payment account is not payable", false)
	}

	now := s.now()
	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.orders.WithTx(tx).TransitionPayment(ctx, sub.ID,
			[]enums.PaymentStatus{enums.PaymentStatusNone},
			map[string]any{"payment_status": enums.PaymentStatusPendingAuth, "last_payment_attempt_at": now},
		)
	}); err != nil {
		return outcomeFor(sub), err
	}
	sub.PaymentStatus = enums.PaymentStatusPendingAuth
	sub.LastPaymentAttemptAt = &now

	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	payment, gwErr := s.gateway.AuthorizePayment(gatewayCtx, square.HoldParams{
		AmountCents:    sub.GrossTotalCents,
		Currency:       sub.Currency,
		LocationID:     account.SquareLocationID,
		CustomerID:     method.SquareCustomerID,
		CardID:         method.SquareCardID,
		IdempotencyKey: holdKey(sub),
		ReferenceID:    sub.ID.String(),
		Note:           order.OrderNumber,
		Window:         s.authWindow,
	})
	cancel()
	if gwErr != nil {
		return s.handleAuthorizeFailure(logCtx, actor, order, sub, gwErr)
	}
	if payment == nil || payment.ID == "" {
		return s.handleAuthorizeFailure(logCtx, actor, order, sub,
			pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no hold reference"))
	}
	return s.completeAuthorization(logCtx, actor, sub, payment)
}

func (s *service) completeAuthorization(ctx context.Context, actor access.Actor, sub *models.SubOrder, payment *square.Payment) (orders.AuthorizationOutcome, error) {
	now := s.now()
	expiresAt := now.Add(s.authWindow)
	if payment.DelayedUntil != nil {
		expiresAt = *payment.DelayedUntil
	}
	holdRef := payment.ID

	// a hold placed again after delivery goes straight to the capture queue
	target := enums.PaymentStatusAuthorized
	updates := map[string]any{
		"payment_status":             target,
		"payment_hold_ref":           holdRef,
		"authorized_at":              now,
		"authorization_expires_at":   expiresAt,
		"last_payment_error_code":    nil,
		"last_payment_error_message": nil,
		"requires_client_update":     false,
		"payment_attempt_count":      0,
		"next_payment_retry_at":      nil,
	}
	if sub.FulfillmentStatus == enums.FulfillmentStatusDelivered {
		target = enums.PaymentStatusAuthorizedPendingCapture
		updates["payment_status"] = target
		updates["next_payment_retry_at"] = now
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).TransitionPayment(ctx, sub.ID,
			[]enums.PaymentStatus{enums.PaymentStatusPendingAuth}, updates,
		); err != nil {
			return err
		}
		sub.PaymentStatus = target
		sub.PaymentHoldRef = &holdRef
		sub.AuthorizedAt = &now
		sub.AuthorizationExpiresAt = &expiresAt
		sub.LastPaymentErrorCode = nil
		sub.LastPaymentErrorMsg = nil
		sub.PaymentAttemptCount = 0
		sub.NextPaymentRetryAt = nil
		if target == enums.PaymentStatusAuthorizedPendingCapture {
			sub.NextPaymentRetryAt = &now
		}

		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			SubOrder:    sub,
			ActorID:     actor.UserRef(),
			Type:        enums.LedgerEventPaymentAuthorized,
			AmountCents: sub.GrossTotalCents,
			GatewayRef:  holdRef,
			Metadata:    map[string]any{"expires_at": expiresAt, "idempotency_key": holdKey(sub)},
		}); err != nil {
			return err
		}
		return s.emitPayment(ctx, tx, actor, enums.EventPaymentAuthorized, sub, target, "")
	})
	if err != nil {
		if dbpkg.IsTransitionConflict(err) {
			// the same idempotency key returns this hold on the next attempt
			s.logg.Warn(s.logg.WithField(ctx, "hold_ref", holdRef), "hold placed but sub order moved on")
		}
		return outcomeFor(sub), err
	}
	s.logg.Info(s.logg.WithField(ctx, "hold_ref", holdRef), "sub order authorized")

	// a cancellation that raced the gateway call must not leave funds held
	order, err := s.loadOrder(ctx, sub.OrderID)
	if err == nil && order.Status == enums.OrderStatusCanceled && target == enums.PaymentStatusAuthorized {
		if relErr := s.release(ctx, access.System(), sub, "order canceled during authorization"); relErr != nil {
			s.logg.Error(ctx, "release after late authorization failed", relErr)
		}
	}
	return outcomeFor(sub), nil
}

func (s *service) handleAuthorizeFailure(ctx context.Context, actor access.Actor, order *models.Order, sub *models.SubOrder, gwErr error) (orders.AuthorizationOutcome, error) {
	code := GatewayErrorCode(gwErr)
	message := gwErr.Error()

	if !pkgerrors.IsRetryable(gwErr) {
		return s.failAuthorization(ctx, actor, order, sub, enums.PaymentStatusPendingAuth, code, message, true)
	}

	attempts := sub.PaymentAttemptCount + 1
	if attempts >= s.maxAttempts {
		sub.PaymentAttemptCount = attempts
		return s.failAuthorization(ctx, actor, order, sub, enums.PaymentStatusPendingAuth, ErrCodeRetryExhausted, message, false)
	}

	next := s.now().Add(Backoff(s.schedule, attempts))
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.orders.WithTx(tx).TransitionPayment(ctx, sub.ID,
			[]enums.PaymentStatus{enums.PaymentStatusPendingAuth},
			map[string]any{
				"payment_status":             enums.PaymentStatusNone,
				"payment_attempt_count":      attempts,
				"next_payment_retry_at":      next,
				"last_payment_error_code":    code,
				"last_payment_error_message": message,
			},
		)
	})
	if err != nil {
		return outcomeFor(sub), err
	}
	sub.PaymentStatus = enums.PaymentStatusNone
	sub.PaymentAttemptCount = attempts
	sub.NextPaymentRetryAt = &next
	sub.LastPaymentErrorCode = &code
	sub.LastPaymentErrorMsg = &message
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"error": message, "attempt": attempts, "next_retry_at": next}),
		"authorization deferred after transient gateway failure")
	return outcomeFor(sub), nil
}

func (s *service) failBeforeGateway(ctx context.Context, actor access.Actor, order *models.Order, sub *models.SubOrder, code, message string, requiresClientUpdate bool) (orders.AuthorizationOutcome, error) {
	return s.failAuthorization(ctx, actor, order, sub, enums.PaymentStatusNone, code, message, requiresClientUpdate)
}

func (s *service) failAuthorization(ctx context.Context, actor access.Actor, order *models.Order, sub *models.SubOrder, from enums.PaymentStatus, code, message string, requiresClientUpdate bool) (orders.AuthorizationOutcome, error) {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).TransitionPayment(ctx, sub.ID,
			[]enums.PaymentStatus{from},
			map[string]any{
				"payment_status":             enums.PaymentStatusFailed,
				"last_payment_error_code":    code,
				"last_payment_error_message": message,
				"last_payment_attempt_at":    now,
				"payment_attempt_count":      sub.PaymentAttemptCount,
				"next_payment_retry_at":      nil,
				"requires_client_update":     requiresClientUpdate,
			},
		); err != nil {
			return err
		}
		sub.PaymentStatus = enums.PaymentStatusFailed
		sub.NextPaymentRetryAt = nil
		sub.LastPaymentErrorCode = &code
		sub.LastPaymentErrorMsg = &message
		sub.RequiresClientUpdate = requiresClientUpdate

		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			SubOrder:    sub,
			ActorID:     actor.UserRef(),
			Type:        enums.LedgerEventAuthorizationFail,
			AmountCents: sub.GrossTotalCents,
			Metadata:    map[string]any{"error_code": code, "attempts": sub.PaymentAttemptCount},
		}); err != nil {
			return err
		}
		if err := s.emitPayment(ctx, tx, actor, enums.EventPaymentFailed, sub, enums.PaymentStatusFailed, code); err != nil {
			return err
		}
		if requiresClientUpdate {
			return s.emitClientUpdate(ctx, tx, actor, sub, order.ClientID, code)
		}
		return nil
	})
	if err != nil {
		return outcomeFor(sub), err
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"error_code": code, "error": message}), "sub order authorization failed")
	return outcomeFor(sub), nil
}
