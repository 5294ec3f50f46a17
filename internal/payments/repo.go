package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Repository covers payment-side lookups: instruments, vendor accounts and the
// sub order queries the sweeps and webhooks need.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindDefaultPaymentMethod(ctx context.Context, clientID uuid.UUID) (*models.ClientPaymentMethod, error)
	FindVendorAccount(ctx context.Context, vendorID uuid.UUID) (*models.VendorPaymentAccount, error)
	CreatePaymentMethod(ctx context.Context, method *models.ClientPaymentMethod) error
	UpsertVendorAccount(ctx context.Context, account *models.VendorPaymentAccount) error

	FindByHoldRef(ctx context.Context, holdRef string) (*models.SubOrder, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.SubOrder, error)
	ListAwaitingAuthorization(ctx context.Context, now time.Time, limit int) ([]models.SubOrder, error)
	ResetStalePendingAuth(ctx context.Context, before time.Time) (int64, error)
	MarkSettled(ctx context.Context, subOrderID uuid.UUID, settlementRef string, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the payments repository to a DB handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindDefaultPaymentMethod prefers the default card and falls back to the newest one.
func (r *repository) FindDefaultPaymentMethod(ctx context.Context, clientID uuid.UUID) (*models.ClientPaymentMethod, error) {
	var method models.ClientPaymentMethod
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("is_default DESC, created_at DESC").
		First(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *repository) FindVendorAccount(ctx context.Context, vendorID uuid.UUID) (*models.VendorPaymentAccount, error) {
	var account models.VendorPaymentAccount
	err := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) CreatePaymentMethod(ctx context.Context, method *models.ClientPaymentMethod) error {
	if method.ID == uuid.Nil {
		method.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(method).Error
}

// UpsertVendorAccount creates the account or replaces its location and payable flag.
func (r *repository) UpsertVendorAccount(ctx context.Context, account *models.VendorPaymentAccount) error {
	existing, err := r.FindVendorAccount(ctx, account.VendorID)
	if err != nil {
		return err
	}
	if existing == nil {
		if account.ID == uuid.Nil {
			account.ID = uuid.New()
		}
		if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
			return err
		}
	} else {
		account.ID = existing.ID
	}
	// payable carries a column default, so it is always written explicitly
	return r.db.WithContext(ctx).
		Model(&models.VendorPaymentAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"square_location_id": account.SquareLocationID,
			"payable":            account.Payable,
		}).Error
}

func (r *repository) FindByHoldRef(ctx context.Context, holdRef string) (*models.SubOrder, error) {
	var sub models.SubOrder
	err := r.db.WithContext(ctx).Where("payment_hold_ref = ?", holdRef).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListExpiredHolds returns undelivered holds whose authorization window lapsed.
func (r *repository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.SubOrder, error) {
	var subs []models.SubOrder
	err := r.db.WithContext(ctx).
		Where("payment_status = ?", enums.PaymentStatusAuthorized).
		Where("authorization_expires_at IS NOT NULL AND authorization_expires_at <= ?", now).
		Order("authorization_expires_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// ListAwaitingAuthorization returns sub orders of confirmed orders that still
// have no hold and are not canceled.
func (r *repository) ListAwaitingAuthorization(ctx context.Context, now time.Time, limit int) ([]models.SubOrder, error) {
	var subs []models.SubOrder
	err := r.db.WithContext(ctx).
		Select("sub_orders.*").
		Joins("JOIN orders ON orders.id = sub_orders.order_id AND orders.deleted_at IS NULL").
		Where("orders.status = ?", enums.OrderStatusConfirmed).
		Where("sub_orders.payment_status = ?", enums.PaymentStatusNone).
		Where("sub_orders.fulfillment_status <> ?", enums.FulfillmentStatusCanceled).
		Where("(sub_orders.next_payment_retry_at IS NULL OR sub_orders.next_payment_retry_at <= ?)", now).
		Order("sub_orders.payment_attempt_count ASC").
		Order("COALESCE(sub_orders.next_payment_retry_at, sub_orders.created_at) ASC").
		Order("sub_orders.id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// ResetStalePendingAuth returns abandoned in-flight authorizations to none so
// the sweep retries them with the same idempotency key.
func (r *repository) ResetStalePendingAuth(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("payment_status = ?", enums.PaymentStatusPendingAuth).
		Where("last_payment_attempt_at IS NULL OR last_payment_attempt_at < ?", before).
		Updates(map[string]any{
			"payment_status":          enums.PaymentStatusNone,
			"last_payment_error_code": ErrCodeAuthorizationStale,
		})
	return res.RowsAffected, res.Error
}

// MarkSettled stamps settlement once; later calls report false.
func (r *repository) MarkSettled(ctx context.Context, subOrderID uuid.UUID, settlementRef string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("id = ?", subOrderID).
		Where("payment_status = ?", enums.PaymentStatusCaptured).
		Where("settled_at IS NULL").
		Updates(map[string]any{"settled_at": at, "settlement_ref": settlementRef})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
