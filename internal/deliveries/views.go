package deliveries

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// View is the API shape of a courier task.
type View struct {
	ID              uuid.UUID            `json:"id"`
	OrderID         uuid.UUID            `json:"order_id"`
	SubOrderID      *uuid.UUID           `json:"sub_order_id,omitempty"`
	CourierID       uuid.UUID            `json:"courier_id"`
	Status          enums.DeliveryStatus `json:"status"`
	Notes           *string              `json:"notes,omitempty"`
	ExceptionReason *string              `json:"exception_reason,omitempty"`
	AssignedAt      time.Time            `json:"assigned_at"`
	PickedUpAt      *time.Time           `json:"picked_up_at,omitempty"`
	InTransitAt     *time.Time           `json:"in_transit_at,omitempty"`
	DeliveredAt     *time.Time           `json:"delivered_at,omitempty"`
	ExceptionAt     *time.Time           `json:"exception_at,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

func NewView(d *models.Delivery) View {
	return View{
		ID:              d.ID,
		OrderID:         d.OrderID,
		SubOrderID:      d.SubOrderID,
		CourierID:       d.CourierID,
		Status:          d.Status,
		Notes:           d.Notes,
		ExceptionReason: d.ExceptionReason,
		AssignedAt:      d.AssignedAt,
		PickedUpAt:      d.PickedUpAt,
		InTransitAt:     d.InTransitAt,
		DeliveredAt:     d.DeliveredAt,
		ExceptionAt:     d.ExceptionAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// DeliverView pairs the delivered task with the capture report.
type DeliverView struct {
	Delivery View            `json:"delivery"`
	Captures []CaptureReport `json:"captures"`
}

func NewDeliverView(res *DeliverResult) DeliverView {
	return DeliverView{Delivery: NewView(res.Delivery), Captures: res.Captures}
}
