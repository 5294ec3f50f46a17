package payments

import (
	"context"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

const defaultSweepLimit = 50

// SweepResult summarizes one authorization sweep.
type SweepResult struct {
	Reset      int64
	Attempted  int
	Authorized int
}

// ExpireAuthorizations fails undelivered holds whose window lapsed so they
// surface in the operator queue for reauthorization.
func (s *service) ExpireAuthorizations(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	now := s.now()
	subs, err := s.repo.ListExpiredHolds(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired holds")
	}

	actor := access.System()
	expired := 0
	var errs error
	for i := range subs {
		sub := &subs[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.expireTx(ctx, tx, actor, sub)
		})
		switch {
		case err == nil:
			expired++
			s.logg.Info(s.subLogContext(ctx, sub), "authorization expired")
		case dbpkg.IsTransitionConflict(err):
			// delivered or released meanwhile
		default:
			errs = multierr.Append(errs, err)
		}
	}
	return expired, errs
}

func (s *service) expireTx(ctx context.Context, tx *gorm.DB, actor access.Actor, sub *models.SubOrder) error {
	code := ErrCodeAuthorizationExpired
	if err := s.orders.WithTx(tx).TransitionPayment(ctx, sub.ID,
		[]enums.PaymentStatus{enums.PaymentStatusAuthorized},
		map[string]any{
			"payment_status":             enums.PaymentStatusFailed,
			"last_payment_error_code":    code,
			"last_payment_error_message": "authorization window lapsed before delivery",
		},
	); err != nil {
		return err
	}
	sub.PaymentStatus = enums.PaymentStatusFailed
	sub.LastPaymentErrorCode = &code

	if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
		SubOrder:    sub,
		Type:        enums.LedgerEventAuthorizationLapse,
		AmountCents: sub.GrossTotalCents,
		GatewayRef:  sub.HoldRef(),
	}); err != nil {
		return err
	}
	return s.emitPayment(ctx, tx, actor, enums.EventPaymentFailed, sub, enums.PaymentStatusFailed, code)
}

// SweepAuthorizations resets abandoned in-flight attempts and retries the
// confirmed sub orders still without a hold whose backoff has elapsed.
func (s *service) SweepAuthorizations(ctx context.Context, limit int) (SweepResult, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	var result SweepResult

	reset, err := s.repo.ResetStalePendingAuth(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset stale authorizations")
	}
	result.Reset = reset

	subs, err := s.repo.ListAwaitingAuthorization(ctx, s.now(), limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending authorizations")
	}

	actor := access.System()
	orderCache := map[string]*models.Order{}
	var errs error
	for i := range subs {
		sub := &subs[i]
		order, ok := orderCache[sub.OrderID.String()]
		if !ok {
			order, err = s.loadOrder(ctx, sub.OrderID)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			orderCache[sub.OrderID.String()] = order
		}
		result.Attempted++
		outcome, err := s.authorizeSub(ctx, actor, order, sub)
		if err != nil {
			if !dbpkg.IsTransitionConflict(err) {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		if outcome.Status == enums.PaymentStatusAuthorized {
			result.Authorized++
		}
	}
	return result, errs
}
