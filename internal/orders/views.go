package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/money"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

// OrderView is the API shape of an order with its sub orders.
type OrderView struct {
	ID              uuid.UUID         `json:"id"`
	OrderNumber     string            `json:"order_number"`
	ClientID        uuid.UUID         `json:"client_id"`
	SubmittedBy     uuid.UUID         `json:"submitted_by"`
	Status          enums.OrderStatus `json:"status"`
	Currency        string            `json:"currency"`
	TotalCents      int64             `json:"total_cents"`
	DeliveryAddress types.Address     `json:"delivery_address"`
	AssignedAgentID *uuid.UUID        `json:"assigned_agent_id,omitempty"`
	CancelReason    *string           `json:"cancel_reason,omitempty"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	CanceledAt      *time.Time        `json:"canceled_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	SubOrders       []SubOrderView    `json:"sub_orders,omitempty"`
	Deliveries      []DeliveryView    `json:"deliveries,omitempty"`
}

// SubOrderView exposes the immutable snapshot and the payment state.
type SubOrderView struct {
	ID                   uuid.UUID               `json:"id"`
	VendorID             uuid.UUID               `json:"vendor_id"`
	SubtotalCents        int64                   `json:"subtotal_cents"`
	NetTotalCents        int64                   `json:"net_total_cents"`
	VATTotalCents        int64                   `json:"vat_total_cents"`
	GrossTotalCents      int64                   `json:"gross_total_cents"`
	VATRate              string                  `json:"vat_rate"`
	FeeRateBps           int64                   `json:"fee_rate_bps"`
	FeeCents             int64                   `json:"fee_cents"`
	PaymentStatus        enums.PaymentStatus     `json:"payment_status"`
	PaymentAttemptCount  int                     `json:"payment_attempt_count"`
	LastPaymentErrorCode *string                 `json:"last_payment_error_code,omitempty"`
	NextPaymentRetryAt   *time.Time              `json:"next_payment_retry_at,omitempty"`
	RequiresClientUpdate bool                    `json:"requires_client_update"`
	AuthorizationExpires *time.Time              `json:"authorization_expires_at,omitempty"`
	CapturedAt           *time.Time              `json:"captured_at,omitempty"`
	FulfillmentStatus    enums.FulfillmentStatus `json:"fulfillment_status"`
	DeliveredAt          *time.Time              `json:"delivered_at,omitempty"`
	Items                []ItemView              `json:"items,omitempty"`
}

// ItemView is one line with its own tax snapshot.
type ItemView struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	NetCents       int64     `json:"net_cents"`
	VATCents       int64     `json:"vat_cents"`
	GrossCents     int64     `json:"gross_cents"`
	VATRate        string    `json:"vat_rate"`
}

// DeliveryView is a courier task attached to the order.
type DeliveryView struct {
	ID              uuid.UUID            `json:"id"`
	SubOrderID      *uuid.UUID           `json:"sub_order_id,omitempty"`
	CourierID       uuid.UUID            `json:"courier_id"`
	Status          enums.DeliveryStatus `json:"status"`
	ExceptionReason *string              `json:"exception_reason,omitempty"`
	AssignedAt      time.Time            `json:"assigned_at"`
	DeliveredAt     *time.Time           `json:"delivered_at,omitempty"`
}

// NewOrderView maps an order and its deliveries to the API shape.
func NewOrderView(order *models.Order, deliveries []models.Delivery) OrderView {
	view := OrderView{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		ClientID:        order.ClientID,
		SubmittedBy:     order.SubmittedBy,
		Status:          order.Status,
		Currency:        order.Currency,
		TotalCents:      order.TotalCents,
		DeliveryAddress: order.DeliveryAddress,
		AssignedAgentID: order.AssignedAgentID,
		CancelReason:    order.CancelReason,
		ConfirmedAt:     order.ConfirmedAt,
		CanceledAt:      order.CanceledAt,
		CompletedAt:     order.CompletedAt,
		CreatedAt:       order.CreatedAt,
	}
	for _, sub := range order.SubOrders {
		view.SubOrders = append(view.SubOrders, NewSubOrderView(sub))
	}
	for _, d := range deliveries {
		view.Deliveries = append(view.Deliveries, DeliveryView{
			ID:              d.ID,
			SubOrderID:      d.SubOrderID,
			CourierID:       d.CourierID,
			Status:          d.Status,
			ExceptionReason: d.ExceptionReason,
			AssignedAt:      d.AssignedAt,
			DeliveredAt:     d.DeliveredAt,
		})
	}
	return view
}

func NewSubOrderView(sub models.SubOrder) SubOrderView {
	view := SubOrderView{
		ID:                   sub.ID,
		VendorID:             sub.VendorID,
		SubtotalCents:        sub.SubtotalCents,
		NetTotalCents:        sub.NetTotalCents,
		VATTotalCents:        sub.VATTotalCents,
		GrossTotalCents:      sub.GrossTotalCents,
		VATRate:              money.FormatRate(sub.VATRateBps),
		FeeRateBps:           sub.FeeRateBps,
		FeeCents:             sub.FeeCents,
		PaymentStatus:        sub.PaymentStatus,
		PaymentAttemptCount:  sub.PaymentAttemptCount,
		LastPaymentErrorCode: sub.LastPaymentErrorCode,
		NextPaymentRetryAt:   sub.NextPaymentRetryAt,
		RequiresClientUpdate: sub.RequiresClientUpdate,
		AuthorizationExpires: sub.AuthorizationExpiresAt,
		CapturedAt:           sub.CapturedAt,
		FulfillmentStatus:    sub.FulfillmentStatus,
		DeliveredAt:          sub.DeliveredAt,
	}
	for _, item := range sub.Items {
		view.Items = append(view.Items, ItemView{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			NetCents:       item.NetCents,
			VATCents:       item.VATCents,
			GrossCents:     item.GrossCents,
			VATRate:        money.FormatRate(item.VATRateBps),
		})
	}
	return view
}
