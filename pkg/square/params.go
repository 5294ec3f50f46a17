package square

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
)

// Square payment statuses relevant to delayed capture.
const (
	StatusApproved  = "APPROVED"
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusCanceled  = "CANCELED"
	StatusFailed    = "FAILED"
)

// maxDelay is the longest delayed-capture window Square allows for card-on-file payments.
const maxDelay = 7 * 24 * time.Hour

// HoldParams describes an authorization-only payment against a stored card.
type HoldParams struct {
	AmountCents    int64
	Currency       string
	LocationID     string
	CustomerID     string
	CardID         string
	IdempotencyKey string
	ReferenceID    string
	Note           string
	Window         time.Duration
}

func (p HoldParams) validate() error {
	switch {
	case p.AmountCents <= 0:
		return fmt.Errorf("hold amount must be positive")
	case strings.TrimSpace(p.LocationID) == "":
		return fmt.Errorf("location id required")
	case strings.TrimSpace(p.CardID) == "":
		return fmt.Errorf("card id required")
	case strings.TrimSpace(p.IdempotencyKey) == "":
		return fmt.Errorf("idempotency key required")
	}
	return nil
}

func (p HoldParams) toSquareRequest() *sq.CreatePaymentRequest {
	autocomplete := false
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: p.IdempotencyKey,
		SourceID:       p.CardID,
		AmountMoney:    moneyPtr(p.AmountCents, p.Currency),
		Autocomplete:   &autocomplete,
		LocationID:     ptrString(p.LocationID),
		CustomerID:     ptrString(p.CustomerID),
		DelayAction:    ptrString("CANCEL"),
		DelayDuration:  ptrString(isoDuration(p.Window)),
	}
	if trimmed := strings.TrimSpace(p.ReferenceID); trimmed != "" {
		req.ReferenceID = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.Note); trimmed != "" {
		req.Note = ptrString(trimmed)
	}
	return req
}

// isoDuration renders the hold window as an ISO-8601 duration in whole minutes.
func isoDuration(window time.Duration) string {
	if window <= 0 || window > maxDelay {
		window = maxDelay
	}
	minutes := int64(window / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("PT%dM", minutes)
}

// Payment is the subset of a Square payment the engine tracks.
type Payment struct {
	ID           string
	Status       string
	AmountCents  int64
	Currency     string
	DelayedUntil *time.Time
}

func fromSquarePayment(p *sq.Payment) *Payment {
	if p == nil {
		return nil
	}
	out := &Payment{
		ID:     stringValue(p.ID),
		Status: strings.ToUpper(stringValue(p.Status)),
	}
	if p.AmountMoney != nil {
		if p.AmountMoney.Amount != nil {
			out.AmountCents = *p.AmountMoney.Amount
		}
		if p.AmountMoney.Currency != nil {
			out.Currency = string(*p.AmountMoney.Currency)
		}
	}
	if raw := stringValue(p.DelayedUntil); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = ts.UTC()
			out.DelayedUntil = &ts
		}
	}
	return out
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "EUR"
	}
	c := sq.Currency(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
