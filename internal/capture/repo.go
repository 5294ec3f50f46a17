package capture

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

// Repository holds the capture queue queries and the worker lease.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Claim(ctx context.Context, subOrderID uuid.UUID, worker string, now, leaseBefore time.Time) (bool, error)
	Unlock(ctx context.Context, subOrderID uuid.UUID, worker string) error
	FinishAttempt(ctx context.Context, subOrderID uuid.UUID, worker string, updates map[string]any) error
	UpdateUnleased(ctx context.Context, subOrderID uuid.UUID, status enums.PaymentStatus, leaseBefore time.Time, updates map[string]any) error
	ListDue(ctx context.Context, now, leaseBefore time.Time, limit int) ([]uuid.UUID, error)
	ListAttention(ctx context.Context, filters AttentionFilters, params pagination.Params) (*AttentionList, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the capture repository to a gorm connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Claim takes the lease on a sub order awaiting capture. A live lease held
// by anyone reports false.
func (r *repository) Claim(ctx context.Context, subOrderID uuid.UUID, worker string, now, leaseBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("id = ?", subOrderID).
		Where("payment_status = ?", enums.PaymentStatusAuthorizedPendingCapture).
		Where("(locked_by IS NULL OR locked_at < ?)", leaseBefore).
		Updates(map[string]any{"locked_by": worker, "locked_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Unlock(ctx context.Context, subOrderID uuid.UUID, worker string) error {
	return r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("id = ? AND locked_by = ?", subOrderID, worker).
		Updates(map[string]any{"locked_by": nil, "locked_at": nil}).Error
}

// FinishAttempt writes the attempt outcome only while the sub order is still
// awaiting capture under this worker's lease.
func (r *repository) FinishAttempt(ctx context.Context, subOrderID uuid.UUID, worker string, updates map[string]any) error {
	updates["locked_by"] = nil
	updates["locked_at"] = nil
	scoped := r.db.Where("payment_status = ?", enums.PaymentStatusAuthorizedPendingCapture)
	return dbpkg.CompareAndSwap(ctx, scoped, &models.SubOrder{}, subOrderID, "locked_by", []string{worker}, updates)
}

// UpdateUnleased applies operator changes only while the payment status is
// unchanged and no live capture lease covers the row.
func (r *repository) UpdateUnleased(ctx context.Context, subOrderID uuid.UUID, status enums.PaymentStatus, leaseBefore time.Time, updates map[string]any) error {
	scoped := r.db.Where("(locked_by IS NULL OR locked_at < ?)", leaseBefore)
	return dbpkg.CompareAndSwap(ctx, scoped, &models.SubOrder{}, subOrderID, "payment_status", []enums.PaymentStatus{status}, updates)
}

// ListDue returns sub orders whose retry time passed and that no live lease covers.
func (r *repository) ListDue(ctx context.Context, now, leaseBefore time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("payment_status = ?", enums.PaymentStatusAuthorizedPendingCapture).
		Where("requires_client_update = ?", false).
		Where("next_payment_retry_at IS NOT NULL AND next_payment_retry_at <= ?", now).
		Where("(locked_by IS NULL OR locked_at < ?)", leaseBefore).
		Order("next_payment_retry_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListAttention pages through failed holds, flagged sub orders and exhausted
// captures, most recently touched first.
func (r *repository) ListAttention(ctx context.Context, filters AttentionFilters, params pagination.Params) (*AttentionList, error) {
	query := r.db.WithContext(ctx).
		Table("sub_orders").
		Select(`sub_orders.id, sub_orders.order_id, orders.order_number, sub_orders.vendor_id,
			sub_orders.payment_status, sub_orders.gross_total_cents, sub_orders.currency,
			sub_orders.last_payment_error_code, sub_orders.last_payment_error_message,
			sub_orders.payment_attempt_count, sub_orders.next_payment_retry_at,
			sub_orders.requires_client_update, sub_orders.authorization_expires_at,
			sub_orders.fulfillment_status, sub_orders.updated_at`).
		Joins("JOIN orders ON orders.id = sub_orders.order_id").
		Where("sub_orders.deleted_at IS NULL").
		Where(`(sub_orders.payment_status = ? OR sub_orders.requires_client_update = ?
			OR (sub_orders.payment_status = ? AND sub_orders.next_payment_retry_at IS NULL))`,
			enums.PaymentStatusFailed, true, enums.PaymentStatusAuthorizedPendingCapture)
	if filters.PaymentStatus != nil {
		query = query.Where("sub_orders.payment_status = ?", *filters.PaymentStatus)
	}
	if filters.VendorID != nil {
		query = query.Where("sub_orders.vendor_id = ?", *filters.VendorID)
	}
	if filters.ErrorCode != "" {
		query = query.Where("sub_orders.last_payment_error_code = ?", filters.ErrorCode)
	}
	query, limit, err := pagination.Keyset(query, "sub_orders.updated_at", "sub_orders.id", params)
	if err != nil {
		return nil, err
	}

	var rows []AttentionItem
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}

	list := &AttentionList{}
	list.Items, list.NextCursor = pagination.Trim(rows, limit, func(item AttentionItem) pagination.Cursor {
		return pagination.Cursor{SortAt: item.UpdatedAt, ID: item.SubOrderID}
	})
	if list.Items == nil {
		list.Items = []AttentionItem{}
	}
	return list, nil
}
