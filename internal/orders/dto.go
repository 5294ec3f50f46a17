package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

// CartLine is one priced line handed over by the cart collaborator. The unit
// price is already final; discounts are never applied here.
type CartLine struct {
	VendorID       uuid.UUID
	ProductID      uuid.UUID
	CategoryID     *uuid.UUID
	Name           string
	Quantity       int
	UnitPriceCents int64
}

// DecomposeInput is a validated, priced cart ready to become an Order.
type DecomposeInput struct {
	Actor             access.Actor
	ClientID          uuid.UUID
	Currency          string
	PricingConvention enums.PricingConvention
	DeliveryAddress   types.Address
	Lines             []CartLine
}

// AuthorizationOutcome reports the result of one SubOrder hold attempt.
type AuthorizationOutcome struct {
	SubOrderID   uuid.UUID           `json:"sub_order_id"`
	VendorID     uuid.UUID           `json:"vendor_id"`
	Status       enums.PaymentStatus `json:"payment_status"`
	HoldRef      string              `json:"hold_ref,omitempty"`
	ErrorCode    string              `json:"error_code,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// ConfirmResult carries the confirmed order and per-vendor hold outcomes.
type ConfirmResult struct {
	Order          *models.Order          `json:"order"`
	Authorizations []AuthorizationOutcome `json:"authorizations"`
}

// ReleaseOutcome reports a best-effort hold release during cancellation.
type ReleaseOutcome struct {
	SubOrderID uuid.UUID `json:"sub_order_id"`
	Released   bool      `json:"released"`
	Error      string    `json:"error,omitempty"`
}

// CancelResult carries the canceled order and the release attempts.
type CancelResult struct {
	Order    *models.Order    `json:"order"`
	Releases []ReleaseOutcome `json:"releases"`
}

// OrderDetail is the read model for one order.
type OrderDetail struct {
	Order      *models.Order     `json:"order"`
	Deliveries []models.Delivery `json:"deliveries"`
}

// ListFilters narrows ListOrders.
type ListFilters struct {
	ClientID *uuid.UUID
	Status   *enums.OrderStatus
}

// OrderSummary is a list row.
type OrderSummary struct {
	ID          uuid.UUID         `json:"id"`
	OrderNumber string            `json:"order_number"`
	ClientID    uuid.UUID         `json:"client_id"`
	Status      enums.OrderStatus `json:"status"`
	TotalCents  int64             `json:"total_cents"`
	Currency    string            `json:"currency"`
	CreatedAt   time.Time         `json:"created_at"`
}

// OrderList is a page of OrderSummary rows.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
