package enums

import "fmt"

// PaymentStatus is the authorization/capture state of a single SubOrder.
type PaymentStatus string

const (
	PaymentStatusNone                     PaymentStatus = "none"
	PaymentStatusPendingAuth              PaymentStatus = "pending_auth"
	PaymentStatusAuthorized               PaymentStatus = "authorized"
	PaymentStatusAuthorizedPendingCapture PaymentStatus = "authorized_pending_capture"
	PaymentStatusCaptured                 PaymentStatus = "captured"
	PaymentStatusReleased                 PaymentStatus = "released"
	PaymentStatusFailed                   PaymentStatus = "failed"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusNone,
	PaymentStatusPendingAuth,
	PaymentStatusAuthorized,
	PaymentStatusAuthorizedPendingCapture,
	PaymentStatusCaptured,
	PaymentStatusReleased,
	PaymentStatusFailed,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// HoldsFunds reports whether a gateway hold is outstanding for this state.
func (p PaymentStatus) HoldsFunds() bool {
	return p == PaymentStatusAuthorized || p == PaymentStatusAuthorizedPendingCapture
}

// IsTerminal reports whether no further automatic transition can happen.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentStatusCaptured || p == PaymentStatusReleased
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
