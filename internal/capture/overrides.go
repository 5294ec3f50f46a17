package capture

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

var flaggable = []enums.PaymentStatus{
	enums.PaymentStatusAuthorized,
	enums.PaymentStatusAuthorizedPendingCapture,
	enums.PaymentStatusFailed,
}

// MarkRequiresClientUpdate halts automatic retries until the client fixes
// their payment method.
func (s *service) MarkRequiresClientUpdate(ctx context.Context, actor access.Actor, subOrderID uuid.UUID, reason string) (*models.SubOrder, error) {
	if err := s.access.Require(actor, access.CapPaymentOverride); err != nil {
		return nil, err
	}
	sub, err := s.loadSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	if sub.RequiresClientUpdate {
		return sub, nil
	}
	if !statusIn(sub.PaymentStatus, flaggable) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "sub order payment cannot be flagged").
			WithDetails(map[string]any{"payment_status": sub.PaymentStatus})
	}
	code := ErrCodeOperatorFlagged
	reason = strings.TrimSpace(reason)
	updates := map[string]any{
		"requires_client_update": true,
		"next_payment_retry_at":  nil,
	}
	if reason != "" {
		updates["last_payment_error_code"] = code
		updates["last_payment_error_message"] = reason
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.updateUnleased(ctx, tx, sub, updates); err != nil {
			return err
		}
		return s.emitClientUpdate(ctx, tx, actor, sub, code)
	})
	if err != nil {
		return nil, s.explainConflict(ctx, sub.ID, err)
	}
	s.logg.Info(s.logg.WithField(s.subLogContext(ctx, sub), "reason", reason), "sub order flagged for client update")
	return s.loadSubOrder(ctx, sub.ID)
}

// ClearRequiresClientUpdate re-arms automatic capture retries. A delivered
// sub order becomes due immediately with a fresh attempt budget.
func (s *service) ClearRequiresClientUpdate(ctx context.Context, actor access.Actor, subOrderID uuid.UUID) (*models.SubOrder, error) {
	if err := s.access.Require(actor, access.CapPaymentOverride); err != nil {
		return nil, err
	}
	sub, err := s.loadSubOrder(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	if !sub.RequiresClientUpdate {
		return sub, nil
	}
	updates := map[string]any{"requires_client_update": false}
	if sub.PaymentStatus == enums.PaymentStatusAuthorizedPendingCapture {
		updates["next_payment_retry_at"] = s.now()
		updates["payment_attempt_count"] = 0
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.updateUnleased(ctx, tx, sub, updates)
	})
	if err != nil {
		return nil, s.explainConflict(ctx, sub.ID, err)
	}
	s.logg.Info(s.subLogContext(ctx, sub), "client update cleared, retries re-armed")
	return s.loadSubOrder(ctx, sub.ID)
}

// ListAttention returns the operator payments queue.
func (s *service) ListAttention(ctx context.Context, actor access.Actor, filters AttentionFilters, params pagination.Params) (*AttentionList, error) {
	if err := s.access.Require(actor, access.CapPaymentQueueView); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := s.repo.ListAttention(ctx, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list attention queue")
	}
	return list, nil
}

// updateUnleased keeps operator writes from racing an in-flight capture
// attempt, whose outcome would overwrite them.
func (s *service) updateUnleased(ctx context.Context, tx *gorm.DB, sub *models.SubOrder, updates map[string]any) error {
	return s.repo.WithTx(tx).UpdateUnleased(ctx, sub.ID, sub.PaymentStatus, s.now().Add(-s.lease), updates)
}

// explainConflict tells a lost race with a capture worker apart from a
// status change.
func (s *service) explainConflict(ctx context.Context, subOrderID uuid.UUID, err error) error {
	if !dbpkg.IsTransitionConflict(err) {
		return err
	}
	current, loadErr := s.loadSubOrder(ctx, subOrderID)
	if loadErr != nil || current.LockedAt == nil || !current.LockedAt.After(s.now().Add(-s.lease)) {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "capture attempt in progress; retry shortly").
		WithDetails(map[string]any{"locked_until": current.LockedAt.Add(s.lease)})
}

func statusIn(status enums.PaymentStatus, set []enums.PaymentStatus) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}
