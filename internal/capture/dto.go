package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Outcome names what one capture attempt did to the sub order.
type Outcome string

const (
	OutcomeCaptured             Outcome = "captured"
	OutcomeAlreadyCaptured      Outcome = "already_captured"
	OutcomeRetryScheduled       Outcome = "retry_scheduled"
	OutcomeRetryExhausted       Outcome = "retry_exhausted"
	OutcomeRequiresClientUpdate Outcome = "requires_client_update"
	OutcomeExpired              Outcome = "authorization_expired"
	OutcomeHoldInvalidated      Outcome = "hold_invalidated"
)

// Error codes written by the capture engine on top of the gateway ones.
const (
	ErrCodeRetryExhausted  = "RETRY_EXHAUSTED"
	ErrCodeOperatorFlagged = "OPERATOR_FLAGGED"
)

// Result reports the sub order payment snapshot after an attempt.
type Result struct {
	SubOrderID    uuid.UUID           `json:"sub_order_id"`
	OrderID       uuid.UUID           `json:"order_id"`
	Outcome       Outcome             `json:"outcome"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	AttemptCount  int                 `json:"attempt_count"`
	NextRetryAt   *time.Time          `json:"next_retry_at,omitempty"`
	ErrorCode     string              `json:"error_code,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	CaptureRef    string              `json:"capture_ref,omitempty"`
}

// ScanResult summarizes one reconciliation pass.
type ScanResult struct {
	Due      int
	Captured int
	Failed   int
	Skipped  int
}

// AttentionFilters narrows the operator queue.
type AttentionFilters struct {
	PaymentStatus *enums.PaymentStatus
	VendorID      *uuid.UUID
	ErrorCode     string
}

// AttentionItem is one row of the operator payments queue.
type AttentionItem struct {
	SubOrderID             uuid.UUID               `json:"sub_order_id" gorm:"column:id"`
	OrderID                uuid.UUID               `json:"order_id" gorm:"column:order_id"`
	OrderNumber            string                  `json:"order_number" gorm:"column:order_number"`
	VendorID               uuid.UUID               `json:"vendor_id" gorm:"column:vendor_id"`
	PaymentStatus          enums.PaymentStatus     `json:"payment_status" gorm:"column:payment_status"`
	FulfillmentStatus      enums.FulfillmentStatus `json:"fulfillment_status" gorm:"column:fulfillment_status"`
	GrossTotalCents        int64                   `json:"gross_total_cents" gorm:"column:gross_total_cents"`
	Currency               string                  `json:"currency" gorm:"column:currency"`
	ErrorCode              *string                 `json:"error_code,omitempty" gorm:"column:last_payment_error_code"`
	ErrorMessage           *string                 `json:"error_message,omitempty" gorm:"column:last_payment_error_message"`
	AttemptCount           int                     `json:"attempt_count" gorm:"column:payment_attempt_count"`
	NextRetryAt            *time.Time              `json:"next_retry_at,omitempty" gorm:"column:next_payment_retry_at"`
	RequiresClientUpdate   bool                    `json:"requires_client_update" gorm:"column:requires_client_update"`
	AuthorizationExpiresAt *time.Time              `json:"authorization_expires_at,omitempty" gorm:"column:authorization_expires_at"`
	UpdatedAt              time.Time               `json:"updated_at" gorm:"column:updated_at"`
}

// AttentionList is a page of the operator queue.
type AttentionList struct {
	Items      []AttentionItem `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}
