package enums

import "fmt"

// FulfillmentStatus summarizes delivery progress on a SubOrder.
type FulfillmentStatus string

const (
	FulfillmentStatusPending    FulfillmentStatus = "pending"
	FulfillmentStatusAssigned   FulfillmentStatus = "assigned"
	FulfillmentStatusInDelivery FulfillmentStatus = "in_delivery"
	FulfillmentStatusDelivered  FulfillmentStatus = "delivered"
	FulfillmentStatusException  FulfillmentStatus = "exception"
	FulfillmentStatusCanceled   FulfillmentStatus = "canceled"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusPending,
	FulfillmentStatusAssigned,
	FulfillmentStatusInDelivery,
	FulfillmentStatusDelivered,
	FulfillmentStatusException,
	FulfillmentStatusCanceled,
}

// String implements fmt.Stringer.
func (f FulfillmentStatus) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FulfillmentStatus.
func (f FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFulfillmentStatus converts raw input into a FulfillmentStatus.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
