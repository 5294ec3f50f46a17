package payments

import (
	"context"

	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

// Gateway is the payment processor port. Errors carry pkg/errors codes:
// retryable codes are transient, PAYMENT_DECLINED and AUTHORIZATION_EXPIRED
// are permanent.
type Gateway interface {
	AuthorizePayment(ctx context.Context, params square.HoldParams) (*square.Payment, error)
	CompletePayment(ctx context.Context, paymentID string) (*square.Payment, error)
	CancelPayment(ctx context.Context, paymentID string) (*square.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*square.Payment, error)
}

// Error codes recorded on sub_orders.last_payment_error_code.
const (
	ErrCodePaymentMethodMissing = "PAYMENT_METHOD_MISSING"
	ErrCodeVendorAccountMissing = "VENDOR_ACCOUNT_MISSING"
	ErrCodeVendorNotPayable     = "VENDOR_NOT_PAYABLE"
	ErrCodeHoldInvalidated      = "HOLD_INVALIDATED"
	ErrCodeAuthorizationStale   = "AUTHORIZATION_STALE"
	ErrCodeAuthorizationExpired = "AUTHORIZATION_EXPIRED"
	ErrCodePaymentDeclined      = "PAYMENT_DECLINED"
	ErrCodeGatewayUnavailable   = "GATEWAY_UNAVAILABLE"
	ErrCodeRetryExhausted       = "AUTHORIZATION_RETRY_EXHAUSTED"
)
