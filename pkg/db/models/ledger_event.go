package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event tied to a SubOrder.
type LedgerEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	SubOrderID  uuid.UUID             `gorm:"column:sub_order_id;type:uuid;not null;index"`
	VendorID    uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null"`
	ActorID     *uuid.UUID            `gorm:"column:actor_id;type:uuid"`
	Type        enums.LedgerEventType `gorm:"column:type;type:ledger_event_type;not null"`
	AmountCents int64                 `gorm:"column:amount_cents;not null"`
	GatewayRef  *string               `gorm:"column:gateway_ref"`
	Metadata    json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }
