package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// SubOrder is the per-vendor slice of an Order and the unit of payment and
// delivery. Tax and fee columns are written once at decomposition.
type SubOrder struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	VendorID      uuid.UUID `gorm:"column:vendor_id;type:uuid;not null"`
	Currency      string    `gorm:"column:currency;not null"`
	SubtotalCents int64     `gorm:"column:subtotal_cents;not null"`

	NetTotalCents   int64      `gorm:"column:net_total_cents;not null"`
	VATTotalCents   int64      `gorm:"column:vat_total_cents;not null"`
	GrossTotalCents int64      `gorm:"column:gross_total_cents;not null"`
	VATRateBps      int64      `gorm:"column:vat_rate_bps;not null"`
	TaxProfileID    *uuid.UUID `gorm:"column:tax_profile_id;type:uuid"`
	FeeRateBps      int64      `gorm:"column:fee_rate_bps;not null"`
	FeeCents        int64      `gorm:"column:fee_cents;not null"`

	PaymentHoldRef         *string             `gorm:"column:payment_hold_ref"`
	PaymentStatus          enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'none'"`
	PaymentAttemptCount    int                 `gorm:"column:payment_attempt_count;not null;default:0"`
	AuthorizationSeq       int                 `gorm:"column:authorization_seq;not null;default:0"`
	LastPaymentErrorCode   *string             `gorm:"column:last_payment_error_code"`
	LastPaymentErrorMsg    *string             `gorm:"column:last_payment_error_message"`
	LastPaymentAttemptAt   *time.Time          `gorm:"column:last_payment_attempt_at"`
	NextPaymentRetryAt     *time.Time          `gorm:"column:next_payment_retry_at;index"`
	RequiresClientUpdate   bool                `gorm:"column:requires_client_update;not null;default:false"`
	AuthorizedAt           *time.Time          `gorm:"column:authorized_at"`
	AuthorizationExpiresAt *time.Time          `gorm:"column:authorization_expires_at"`
	CapturedAt             *time.Time          `gorm:"column:captured_at"`
	SettlementRef          *string             `gorm:"column:settlement_ref"`
	SettledAt              *time.Time          `gorm:"column:settled_at"`
	ReleasedAt             *time.Time          `gorm:"column:released_at"`

	FulfillmentStatus enums.FulfillmentStatus `gorm:"column:fulfillment_status;type:fulfillment_status;not null;default:'pending'"`
	DeliveredAt       *time.Time              `gorm:"column:delivered_at"`

	LockedBy *string    `gorm:"column:locked_by"`
	LockedAt *time.Time `gorm:"column:locked_at"`

	Items     []OrderItem    `gorm:"foreignKey:SubOrderID"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (SubOrder) TableName() string { return "sub_orders" }

// HoldRef returns the gateway hold reference or an empty string.
func (s SubOrder) HoldRef() string {
	if s.PaymentHoldRef == nil {
		return ""
	}
	return *s.PaymentHoldRef
}

// AuthorizationExpired reports whether the hold lapsed at the given instant.
func (s SubOrder) AuthorizationExpired(now time.Time) bool {
	return s.AuthorizationExpiresAt != nil && !now.Before(*s.AuthorizationExpiresAt)
}
