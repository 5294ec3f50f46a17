package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	"github.com/angelmondragon/fulfillment-engine/internal/payments"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

// Capture collects the held funds of a delivered sub order. Capturing an
// already captured sub order is a no-op. Gateway failures are recorded on
// the sub order and reported through the result outcome, never as an error.
func (s *service) Capture(ctx context.Context, subOrderID uuid.UUID) (*Result, error) {
	return s.capture(ctx, access.System(), subOrderID, false)
}

// RetryNow forces an immediate attempt regardless of schedule, exhaustion
// or a pending client update.
func (s *service) RetryNow(ctx context.Context, actor access.Actor, subOrderID uuid.UUID) (*Result, error) {
	if err := s.access.Require(actor, access.CapPaymentOverride); err != nil {
		return nil, err
	}
	return s.capture(ctx, actor, subOrderID, true)
}

func (s *service) capture(ctx context.Context, actor access.Actor, subOrderID uuid.UUID, forced bool) (*Result, error) {
	sub, err := s.loadSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	switch sub.PaymentStatus {
	case enums.PaymentStatusCaptured:
		return resultFor(sub, OutcomeAlreadyCaptured), nil
	case enums.PaymentStatusAuthorizedPendingCapture:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "capture requires a delivered sub order holding an authorization").
			WithDetails(map[string]any{"payment_status": sub.PaymentStatus})
	}
	if sub.RequiresClientUpdate && !forced {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "sub order is waiting for a client payment update")
	}
	logCtx := s.subLogContext(ctx, sub)

	now := s.now()
	token := fmt.Sprintf("%s/%s", s.worker, uuid.NewString()[:8])
	claimed, err := s.repo.Claim(ctx, sub.ID, token, now, now.Add(-s.lease))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim sub order")
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed").
			WithDetails(map[string]any{"reason": "capture already in progress"})
	}
	// the row may have moved between the read and the claim
	if sub, err = s.loadSubOrder(ctx, sub.ID); err != nil {
		_ = s.repo.Unlock(ctx, subOrderID, token)
		return nil, err
	}

	var (
		result *Result
		took   time.Duration
	)
	if sub.AuthorizationExpired(now) {
		result, err = s.failHold(logCtx, actor, sub, token, OutcomeExpired, payments.ErrCodeAuthorizationExpired,
			"authorization window lapsed before capture", false, 0)
	} else {
		result, took, err = s.attempt(logCtx, actor, sub, token)
	}
	if err != nil {
		if unlockErr := s.repo.Unlock(ctx, sub.ID, token); unlockErr != nil {
			s.logg.Error(logCtx, "release capture lease failed", unlockErr)
		}
		return nil, err
	}
	s.metrics.ObserveCapture(string(result.Outcome), took)
	return result, nil
}

func (s *service) attempt(ctx context.Context, actor access.Actor, sub *models.SubOrder, token string) (*Result, time.Duration, error) {
	start := time.Now()
	gatewayCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	payment, gwErr := s.gateway.CompletePayment(gatewayCtx, sub.HoldRef())
	cancel()
	took := time.Since(start)

	var (
		result *Result
		err    error
	)
	switch {
	case gwErr == nil && payment != nil:
		result, err = s.succeed(ctx, actor, sub, token, payment)
	case gwErr == nil:
		result, err = s.retry(ctx, sub, token, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned no payment"))
	case pkgerrors.IsCode(gwErr, pkgerrors.CodeAuthorizationExpired):
		result, err = s.failHold(ctx, actor, sub, token, OutcomeHoldInvalidated, payments.ErrCodeHoldInvalidated,
			gwErr.Error(), true, 1)
	case pkgerrors.IsRetryable(gwErr):
		result, err = s.retry(ctx, sub, token, gwErr)
	default:
		result, err = s.requireUpdate(ctx, actor, sub, token, gwErr)
	}
	return result, took, err
}

func (s *service) succeed(ctx context.Context, actor access.Actor, sub *models.SubOrder, token string, payment *square.Payment) (*Result, error) {
	now := s.now()
	attempts := sub.PaymentAttemptCount + 1
	captureRef := payment.ID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).FinishAttempt(ctx, sub.ID, token, map[string]any{
			"payment_status":             enums.PaymentStatusCaptured,
			"captured_at":                now,
			"settlement_ref":             captureRef,
			"payment_attempt_count":      attempts,
			"last_payment_attempt_at":    now,
			"next_payment_retry_at":      nil,
			"last_payment_error_code":    nil,
			"last_payment_error_message": nil,
			"requires_client_update":     false,
		}); err != nil {
			return err
		}
		sub.PaymentStatus = enums.PaymentStatusCaptured
		sub.CapturedAt = &now
		sub.SettlementRef = &captureRef
		sub.PaymentAttemptCount = attempts
		sub.NextPaymentRetryAt = nil
		sub.LastPaymentErrorCode = nil
		sub.LastPaymentErrorMsg = nil
		sub.RequiresClientUpdate = false

		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			SubOrder:    sub,
			ActorID:     actor.UserRef(),
			Type:        enums.LedgerEventPaymentCaptured,
			AmountCents: sub.GrossTotalCents,
			GatewayRef:  captureRef,
			Metadata:    map[string]any{"attempt": attempts},
		}); err != nil {
			return err
		}
		return s.emitPayment(ctx, tx, enums.EventPaymentCaptured, sub, "")
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"capture_ref": captureRef, "attempt": attempts}), "sub order captured")
	return resultFor(sub, OutcomeCaptured), nil
}

func (s *service) retry(ctx context.Context, sub *models.SubOrder, token string, gwErr error) (*Result, error) {
	now := s.now()
	attempts := sub.PaymentAttemptCount + 1
	code := payments.GatewayErrorCode(gwErr)
	message := gwErr.Error()
	outcome := OutcomeRetryScheduled

	var next *time.Time
	if attempts >= s.maxAttempts {
		outcome = OutcomeRetryExhausted
		code = ErrCodeRetryExhausted
	} else {
		at := now.Add(Backoff(s.schedule, attempts))
		next = &at
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).FinishAttempt(ctx, sub.ID, token, map[string]any{
			"payment_attempt_count":      attempts,
			"last_payment_attempt_at":    now,
			"next_payment_retry_at":      next,
			"last_payment_error_code":    code,
			"last_payment_error_message": message,
		}); err != nil {
			return err
		}
		sub.PaymentAttemptCount = attempts
		sub.NextPaymentRetryAt = next
		sub.LastPaymentErrorCode = &code
		sub.LastPaymentErrorMsg = &message

		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			SubOrder:    sub,
			Type:        enums.LedgerEventCaptureFailed,
			AmountCents: sub.GrossTotalCents,
			GatewayRef:  sub.HoldRef(),
			Metadata:    map[string]any{"attempt": attempts, "error_code": code, "transient": true},
		}); err != nil {
			return err
		}
		if outcome == OutcomeRetryExhausted {
			return s.emitPayment(ctx, tx, enums.EventPaymentFailed, sub, code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	fields := map[string]any{"attempt": attempts, "error_code": code, "error": message}
	if next != nil {
		fields["next_retry_at"] = next.Format(time.RFC3339)
	}
	s.logg.Warn(s.logg.WithFields(ctx, fields), "capture attempt failed")
	return resultFor(sub, outcome), nil
}

func (s *service) requireUpdate(ctx context.Context, actor access.Actor, sub *models.SubOrder, token string, gwErr error) (*Result, error) {
	now := s.now()
	attempts := sub.PaymentAttemptCount + 1
	code := payments.GatewayErrorCode(gwErr)
	message := gwErr.Error()

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).FinishAttempt(ctx, sub.ID, token, map[string]any{
			"payment_attempt_count":      attempts,
			"last_payment_attempt_at":    now,
			"next_payment_retry_at":      nil,
			"last_payment_error_code":    code,
			"last_payment_error_message": message,
			"requires_client_update":     true,
		}); err != nil {
			return err
		}
		sub.PaymentAttemptCount = attempts
		sub.NextPaymentRetryAt = nil
		sub.LastPaymentErrorCode = &code
		sub.LastPaymentErrorMsg = &message
		sub.RequiresClientUpdate = true

		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			SubOrder:    sub,
			ActorID:     actor.UserRef(),
			Type:        enums.LedgerEventCaptureFailed,
			AmountCents: sub.GrossTotalCents,
			GatewayRef:  sub.HoldRef(),
			Metadata:    map[string]any{"attempt": attempts, "error_code": code, "transient": false},
		}); err != nil {
			return err
		}
		if err := s.emitPayment(ctx, tx, enums.EventPaymentFailed, sub, code); err != nil {
			return err
		}
		return s.emitClientUpdate(ctx, tx, actor, sub, code)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"error_code": code, "error": message}), "capture declined, client update required")
	return resultFor(sub, OutcomeRequiresClientUpdate), nil
}

// failHold moves a sub order whose hold is gone to FAILED so an operator can
// place a new authorization.
func (s *service) failHold(ctx context.Context, actor access.Actor, sub *models.SubOrder, token string, outcome Outcome, code, message string, requiresClientUpdate bool, attemptDelta int) (*Result, error) {
	now := s.now()
	attempts := sub.PaymentAttemptCount + attemptDelta
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).FinishAttempt(ctx, sub.ID, token, map[string]any{
			"payment_status":             enums.PaymentStatusFailed,
			"payment_attempt_count":      attempts,
			"last_payment_attempt_at":    now,
			"next_payment_retry_at":      nil,
			"last_payment_error_code":    code,
			"last_payment_error_message": message,
			"requires_client_update":     requiresClientUpdate,
		}); err != nil {
			return err
		}
		sub.PaymentStatus = enums.PaymentStatusFailed
		sub.PaymentAttemptCount = attempts
		sub.NextPaymentRetryAt = nil
		sub.LastPaymentErrorCode = &code
		sub.LastPaymentErrorMsg = &message
		sub.RequiresClientUpdate = requiresClientUpdate

		ledgerType := enums.LedgerEventCaptureFailed
		if outcome == OutcomeExpired {
			ledgerType = enums.LedgerEventAuthorizationLapse
		}
		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			SubOrder:    sub,
			ActorID:     actor.UserRef(),
			Type:        ledgerType,
			AmountCents: sub.GrossTotalCents,
			GatewayRef:  sub.HoldRef(),
			Metadata:    map[string]any{"error_code": code},
		}); err != nil {
			return err
		}
		if err := s.emitPayment(ctx, tx, enums.EventPaymentFailed, sub, code); err != nil {
			return err
		}
		if requiresClientUpdate {
			return s.emitClientUpdate(ctx, tx, actor, sub, code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Warn(s.logg.WithField(ctx, "error_code", code), "capture stopped, new authorization required")
	return resultFor(sub, outcome), nil
}
