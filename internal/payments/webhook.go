package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/access"
	"github.com/angelmondragon/fulfillment-engine/internal/ledger"
	dbpkg "github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/redis"
	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

const eventPaymentUpdated = "payment.updated"

// WebhookEvent is the envelope Square posts for payment notifications.
type WebhookEvent struct {
	MerchantID string      `json:"merchant_id"`
	EventID    string      `json:"event_id"`
	Type       string      `json:"type"`
	CreatedAt  string      `json:"created_at"`
	Data       WebhookData `json:"data"`
}

type WebhookData struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	Object WebhookObject `json:"object"`
}

type WebhookObject struct {
	Payment *WebhookPayment `json:"payment"`
}

type WebhookPayment struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

// DedupeID is the key used to drop redelivered notifications.
func (e *WebhookEvent) DedupeID() string {
	if id := strings.TrimSpace(e.EventID); id != "" {
		return id
	}
	return e.Data.ID
}

// HandleWebhook applies a gateway notification. Unknown payments and
// unrelated event types are acknowledged without changes.
func (s *service) HandleWebhook(ctx context.Context, event *WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}
	if !strings.EqualFold(event.Type, eventPaymentUpdated) {
		return nil
	}
	payment := event.Data.Object.Payment
	if payment == nil || strings.TrimSpace(payment.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
	}

	sub, err := s.repo.FindByHoldRef(ctx, payment.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find sub order by hold")
	}
	if sub == nil {
		return nil
	}
	logCtx := s.logg.WithFields(s.subLogContext(ctx, sub), map[string]any{
		"event_id":       event.EventID,
		"payment_status": payment.Status,
	})

	switch strings.ToUpper(payment.Status) {
	case square.StatusCompleted:
		return s.applySettlement(logCtx, sub, payment.ID)
	case square.StatusCanceled, square.StatusFailed:
		return s.applyHoldInvalidated(logCtx, sub)
	default:
		return nil
	}
}

func (s *service) applySettlement(ctx context.Context, sub *models.SubOrder, paymentID string) error {
	if sub.PaymentStatus != enums.PaymentStatusCaptured {
		// capture commits its own state; settlement only follows a capture
		return nil
	}
	now := s.now()
	actor := access.System()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		marked, err := s.repo.WithTx(tx).MarkSettled(ctx, sub.ID, paymentID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark settled")
		}
		if !marked {
			return nil
		}
		sub.SettledAt = &now
		sub.SettlementRef = &paymentID
		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			SubOrder:    sub,
			Type:        enums.LedgerEventPaymentSettled,
			AmountCents: sub.GrossTotalCents,
			GatewayRef:  paymentID,
		}); err != nil {
			return err
		}
		return s.emitPayment(ctx, tx, actor, enums.EventPaymentSettled, sub, enums.PaymentStatusCaptured, "")
	})
	if err != nil {
		return err
	}
	s.logg.Info(ctx, "payment settlement recorded")
	return nil
}

func (s *service) applyHoldInvalidated(ctx context.Context, sub *models.SubOrder) error {
	if !sub.PaymentStatus.HoldsFunds() {
		return nil
	}
	order, err := s.loadOrder(ctx, sub.OrderID)
	if err != nil {
		return err
	}
	_, err = s.failAuthorization(ctx, access.System(), order, sub, sub.PaymentStatus,
		ErrCodeHoldInvalidated, "gateway reported the hold as canceled or failed", true)
	if dbpkg.IsTransitionConflict(err) {
		return nil
	}
	return err
}

// WebhookGuard drops redelivered webhook notifications using a Redis SETNX marker.
type WebhookGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// NewWebhookGuard builds a guard scoped to one webhook source.
func NewWebhookGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*WebhookGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &WebhookGuard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark reports whether eventID was already seen and marks it otherwise.
func (g *WebhookGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Delete forgets eventID so a failed delivery can be retried by the sender.
func (g *WebhookGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
