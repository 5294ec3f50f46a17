package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder    OutboxAggregateType = "order"
	AggregateSubOrder OutboxAggregateType = "sub_order"
	AggregateDelivery OutboxAggregateType = "delivery"
)

func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains([]OutboxAggregateType{AggregateOrder, AggregateSubOrder, AggregateDelivery}, a)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderConfirmed        OutboxEventType = "order_confirmed"
	EventOrderCanceled         OutboxEventType = "order_canceled"
	EventOrderCompleted        OutboxEventType = "order_completed"
	EventPaymentAuthorized     OutboxEventType = "payment_authorized"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventPaymentCaptured       OutboxEventType = "payment_captured"
	EventPaymentReleased       OutboxEventType = "payment_released"
	EventPaymentSettled        OutboxEventType = "payment_settled"
	EventClientUpdateRequested OutboxEventType = "client_update_requested"
	EventDeliveryStatusChanged OutboxEventType = "delivery_status_changed"
)

// eventAggregates fixes which aggregate each event is keyed on. Payment
// events belong to the sub order because holds are per vendor.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventOrderCreated:          AggregateOrder,
	EventOrderConfirmed:        AggregateOrder,
	EventOrderCanceled:         AggregateOrder,
	EventOrderCompleted:        AggregateOrder,
	EventPaymentAuthorized:     AggregateSubOrder,
	EventPaymentFailed:         AggregateSubOrder,
	EventPaymentCaptured:       AggregateSubOrder,
	EventPaymentReleased:       AggregateSubOrder,
	EventPaymentSettled:        AggregateSubOrder,
	EventClientUpdateRequested: AggregateSubOrder,
	EventDeliveryStatusChanged: AggregateDelivery,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type the event is emitted for, or "" for an
// unknown event.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	e := OutboxEventType(value)
	if !e.IsValid() {
		return "", fmt.Errorf("invalid event type %q", value)
	}
	return e, nil
}
