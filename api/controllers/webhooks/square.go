package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/internal/payments"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

// Square notifications are a few KB; anything larger is not from Square.
const maxWebhookBody = 1 << 20

type SquareWebhookService interface {
	HandleWebhook(ctx context.Context, event *payments.WebhookEvent) error
}

type squareWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type squareSigner interface {
	SigningSecret() string
	NotificationURL() string
}

type squareWebhook struct {
	svc    SquareWebhookService
	signer squareSigner
	guard  squareWebhookGuard
	logg   *logger.Logger
}

// SquareWebhook applies payment.updated notifications. Redelivered events are
// acknowledged without reprocessing; a failed event is unmarked so Square's
// retry is processed.
func SquareWebhook(svc SquareWebhookService, client squareSigner, guard squareWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	h := &squareWebhook{svc: svc, signer: client, guard: guard, logg: logg}
	return h.serve
}

func (h *squareWebhook) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.svc == nil || h.signer == nil || h.guard == nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeInternal, "square webhook not configured"))
		return
	}

	event, err := h.readVerified(w, r)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	eventID := event.DedupeID()
	if eventID == "" {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id missing"))
		return
	}
	if h.logg != nil {
		ctx = h.logg.WithFields(ctx, map[string]any{"event_id": eventID, "event_type": event.Type})
	}

	seen, err := h.guard.CheckAndMark(ctx, eventID)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	if seen {
		responses.WriteSuccess(w, map[string]any{"duplicate": true})
		return
	}

	if err := h.svc.HandleWebhook(ctx, event); err != nil {
		// unmark even if Square already hung up, or its retry would be dropped
		if delErr := h.guard.Delete(context.WithoutCancel(ctx), eventID); delErr != nil && h.logg != nil {
			h.logg.Error(ctx, "failed to unmark square event", delErr)
		}
		responses.WriteError(ctx, h.logg, w, err)
		return
	}
	if h.logg != nil {
		h.logg.Info(ctx, "square event processed")
	}
	responses.WriteSuccess(w, map[string]any{"duplicate": false})
}

// readVerified returns the decoded event only when the body carries a valid
// Square signature for the configured notification URL.
func (h *squareWebhook) readVerified(w http.ResponseWriter, r *http.Request) (*payments.WebhookEvent, error) {
	sig := r.Header.Get(square.SignatureHeader)
	if sig == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "square signature missing")
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body")
	}
	if !square.VerifySignature(h.signer.SigningSecret(), h.signer.NotificationURL(), payload, sig) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature")
	}

	var event payments.WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event")
	}
	return &event, nil
}
