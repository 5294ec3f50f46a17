package enums

import "fmt"

// LedgerEventType maps to the ledger_event_type enum in Postgres.
type LedgerEventType string

const (
	LedgerEventPaymentAuthorized  LedgerEventType = "payment_authorized"
	LedgerEventAuthorizationFail  LedgerEventType = "authorization_failed"
	LedgerEventPaymentCaptured    LedgerEventType = "payment_captured"
	LedgerEventCaptureFailed      LedgerEventType = "capture_failed"
	LedgerEventHoldReleased       LedgerEventType = "hold_released"
	LedgerEventPaymentSettled     LedgerEventType = "payment_settled"
	LedgerEventAuthorizationLapse LedgerEventType = "authorization_expired"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventPaymentAuthorized,
	LedgerEventAuthorizationFail,
	LedgerEventPaymentCaptured,
	LedgerEventCaptureFailed,
	LedgerEventHoldReleased,
	LedgerEventPaymentSettled,
	LedgerEventAuthorizationLapse,
}

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
