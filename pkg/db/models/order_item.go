package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem is one product line inside a SubOrder with its own tax snapshot.
type OrderItem struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID      `gorm:"column:order_id;type:uuid;not null;index"`
	SubOrderID     uuid.UUID      `gorm:"column:sub_order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID      `gorm:"column:product_id;type:uuid;not null"`
	CategoryID     *uuid.UUID     `gorm:"column:category_id;type:uuid"`
	Name           string         `gorm:"column:name;not null"`
	Quantity       int            `gorm:"column:quantity;not null"`
	UnitPriceCents int64          `gorm:"column:unit_price_cents;not null"`
	NetCents       int64          `gorm:"column:net_cents;not null"`
	VATCents       int64          `gorm:"column:vat_cents;not null"`
	GrossCents     int64          `gorm:"column:gross_cents;not null"`
	VATRateBps     int64          `gorm:"column:vat_rate_bps;not null"`
	TaxProfileID   uuid.UUID      `gorm:"column:tax_profile_id;type:uuid;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	DeletedAt      gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (OrderItem) TableName() string { return "order_items" }
