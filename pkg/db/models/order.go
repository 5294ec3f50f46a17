package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

// Order is a client's top-level purchase. Total always equals the sum of its
// SubOrder subtotals.
type Order struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber       string                  `gorm:"column:order_number;not null;uniqueIndex"`
	ClientID          uuid.UUID               `gorm:"column:client_id;type:uuid;not null"`
	SubmittedBy       uuid.UUID               `gorm:"column:submitted_by;type:uuid;not null"`
	Status            enums.OrderStatus       `gorm:"column:status;type:order_status;not null;default:'pending_confirmation'"`
	Currency          string                  `gorm:"column:currency;not null"`
	TotalCents        int64                   `gorm:"column:total_cents;not null"`
	PricingConvention enums.PricingConvention `gorm:"column:pricing_convention;not null"`
	DeliveryAddress   types.Address           `gorm:"column:delivery_address;type:jsonb;serializer:json;not null"`
	AssignedAgentID   *uuid.UUID              `gorm:"column:assigned_agent_id;type:uuid"`
	CancelReason      *string                 `gorm:"column:cancel_reason"`
	ConfirmedAt       *time.Time              `gorm:"column:confirmed_at"`
	CanceledAt        *time.Time              `gorm:"column:canceled_at"`
	CompletedAt       *time.Time              `gorm:"column:completed_at"`
	SubOrders         []SubOrder              `gorm:"foreignKey:OrderID"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt         gorm.DeletedAt          `gorm:"column:deleted_at;index"`
}

func (Order) TableName() string { return "orders" }
