package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Delivery is one physical delivery task. New rows always reference a
// SubOrder; rows with only OrderID predate per-vendor splitting.
type Delivery struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	SubOrderID      *uuid.UUID           `gorm:"column:sub_order_id;type:uuid;index"`
	CourierID       uuid.UUID            `gorm:"column:courier_id;type:uuid;not null"`
	Status          enums.DeliveryStatus `gorm:"column:status;type:delivery_status;not null;default:'assigned'"`
	Notes           *string              `gorm:"column:notes"`
	ExceptionReason *string              `gorm:"column:exception_reason"`
	AssignedAt      time.Time            `gorm:"column:assigned_at;not null"`
	PickedUpAt      *time.Time           `gorm:"column:picked_up_at"`
	InTransitAt     *time.Time           `gorm:"column:in_transit_at"`
	DeliveredAt     *time.Time           `gorm:"column:delivered_at"`
	ExceptionAt     *time.Time           `gorm:"column:exception_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Delivery) TableName() string { return "deliveries" }

// IsLegacy reports whether the delivery is bound to the whole Order.
func (d Delivery) IsLegacy() bool {
	return d.SubOrderID == nil
}
