package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// OrderCreatedEvent signals a new order split across vendors.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	ClientID    uuid.UUID   `json:"client_id"`
	TotalCents  int64       `json:"total_cents"`
	Currency    string      `json:"currency"`
	SubOrderIDs []uuid.UUID `json:"sub_order_ids"`
}

// OrderStatusEvent covers confirmed, canceled and completed transitions.
type OrderStatusEvent struct {
	OrderID  uuid.UUID         `json:"order_id"`
	ClientID uuid.UUID         `json:"client_id"`
	Status   enums.OrderStatus `json:"status"`
	Reason   string            `json:"reason,omitempty"`
	At       time.Time         `json:"at"`
}

// PaymentEvent describes a payment transition on one SubOrder.
type PaymentEvent struct {
	OrderID     uuid.UUID           `json:"order_id"`
	SubOrderID  uuid.UUID           `json:"sub_order_id"`
	VendorID    uuid.UUID           `json:"vendor_id"`
	Status      enums.PaymentStatus `json:"payment_status"`
	AmountCents int64               `json:"amount_cents"`
	Currency    string              `json:"currency"`
	HoldRef     string              `json:"hold_ref,omitempty"`
	ErrorCode   string              `json:"error_code,omitempty"`
	Attempt     int                 `json:"attempt,omitempty"`
}

// NewPaymentEvent snapshots the payment columns of sub.
func NewPaymentEvent(sub *models.SubOrder, status enums.PaymentStatus, errorCode string) PaymentEvent {
	return PaymentEvent{
		OrderID:     sub.OrderID,
		SubOrderID:  sub.ID,
		VendorID:    sub.VendorID,
		Status:      status,
		AmountCents: sub.GrossTotalCents,
		Currency:    sub.Currency,
		HoldRef:     sub.HoldRef(),
		ErrorCode:   errorCode,
		Attempt:     sub.PaymentAttemptCount,
	}
}

// ClientUpdateRequestedEvent asks the notification collaborator to prompt the
// client for a new payment instrument.
type ClientUpdateRequestedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	SubOrderID uuid.UUID `json:"sub_order_id"`
	ClientID   uuid.UUID `json:"client_id"`
	ErrorCode  string    `json:"error_code"`
}

// DeliveryStatusChangedEvent reports a courier transition.
type DeliveryStatusChangedEvent struct {
	DeliveryID uuid.UUID            `json:"delivery_id"`
	OrderID    uuid.UUID            `json:"order_id"`
	SubOrderID *uuid.UUID           `json:"sub_order_id,omitempty"`
	CourierID  uuid.UUID            `json:"courier_id"`
	From       enums.DeliveryStatus `json:"from,omitempty"`
	To         enums.DeliveryStatus `json:"to"`
}
