package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Square error codes that mean the card itself refused the hold.
var declineCodes = map[string]struct{}{
	"GENERIC_DECLINE":              {},
	"CARD_DECLINED":                {},
	"CVV_FAILURE":                  {},
	"ADDRESS_VERIFICATION_FAILURE": {},
	"INSUFFICIENT_FUNDS":           {},
	"CARD_EXPIRED":                 {},
	"INVALID_ACCOUNT":              {},
	"CARD_NOT_SUPPORTED":           {},
	"TRANSACTION_LIMIT":            {},
	"VOICE_FAILURE":                {},
}

// Client exposes the Square payment primitives used for hold, capture and release,
// with centralized auth, logging and error mapping.
type Client struct {
	sdk           *sqclient.Client
	environment   string
	webhookSecret string
	webhookURL    string
	logger        *logger.Logger
}

// NewClient initializes the Square wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(accessToken),
	)

	c := &Client{
		sdk:           sdk,
		environment:   env,
		webhookSecret: strings.TrimSpace(cfg.WebhookSignature),
		webhookURL:    strings.TrimSpace(cfg.WebhookURL),
		logger:        logg,
	}

	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return c, nil
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the Square webhook signature key.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// NotificationURL is the public webhook URL Square signs together with the body.
func (c *Client) NotificationURL() string {
	if c == nil {
		return ""
	}
	return c.webhookURL
}

// NewIdempotencyKey returns a unique key for Square operations.
func NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "ffe"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// AuthorizePayment places a delayed-capture hold on the client's stored card.
// Square cancels the hold on its own once the delay window lapses.
func (c *Client) AuthorizePayment(ctx context.Context, params HoldParams) (*Payment, error) {
	if err := params.validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid hold request")
	}
	req := params.toSquareRequest()
	c.log(ctx, "request", "authorize_payment", map[string]any{
		"location_id":  params.LocationID,
		"customer_id":  params.CustomerID,
		"card_id":      params.CardID,
		"amount":       params.AmountCents,
		"reference_id": params.ReferenceID,
	})

	resp, err := c.sdk.Payments.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "authorize_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "authorize payment")
	}

	payment := fromSquarePayment(resp.Payment)
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square authorize payment returned no payment")
	}
	c.log(ctx, "response", "authorize_payment", map[string]any{
		"payment_id": payment.ID,
		"status":     payment.Status,
	})
	if payment.Status == StatusFailed || payment.Status == StatusCanceled {
		return payment, pkgerrors.New(pkgerrors.CodePaymentDeclined, "square hold was not approved").
			WithDetails(map[string]any{"status": payment.Status})
	}
	return payment, nil
}

// CompletePayment captures an approved hold. Completing an already completed
// payment is reported as success; a hold Square already canceled is reported
// as AUTHORIZATION_EXPIRED.
func (c *Client) CompletePayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	c.log(ctx, "request", "complete_payment", map[string]any{"payment_id": paymentID})

	resp, err := c.sdk.Payments.Complete(ctx, &sq.CompletePaymentRequest{PaymentID: paymentID})
	if err == nil {
		payment := fromSquarePayment(resp.Payment)
		if payment == nil {
			return nil, pkgerrors.New(pkgerrors.CodeDependency, "square complete payment returned no payment")
		}
		c.log(ctx, "response", "complete_payment", map[string]any{"payment_id": payment.ID, "status": payment.Status})
		return payment, nil
	}

	c.log(ctx, "error", "complete_payment", map[string]any{"error": err.Error()})
	mapped := c.mapSquareError(err, "complete payment")
	if pkgerrors.IsRetryable(mapped) {
		return nil, mapped
	}

	current, getErr := c.GetPayment(ctx, paymentID)
	if getErr != nil {
		return nil, mapped
	}
	switch current.Status {
	case StatusCompleted:
		return current, nil
	case StatusCanceled, StatusFailed:
		return current, pkgerrors.Wrap(pkgerrors.CodeAuthorizationExpired, err, "square hold is no longer valid").
			WithDetails(map[string]any{"status": current.Status})
	}
	return nil, mapped
}

// CancelPayment voids an uncaptured hold. Canceling an already canceled hold succeeds.
func (c *Client) CancelPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}
	c.log(ctx, "request", "cancel_payment", map[string]any{"payment_id": paymentID})

	resp, err := c.sdk.Payments.Cancel(ctx, &sq.CancelPaymentsRequest{PaymentID: paymentID})
	if err != nil {
		c.log(ctx, "error", "cancel_payment", map[string]any{"error": err.Error()})
		mapped := c.mapSquareError(err, "cancel payment")
		if pkgerrors.IsRetryable(mapped) {
			return nil, mapped
		}
		if current, getErr := c.GetPayment(ctx, paymentID); getErr == nil && current.Status == StatusCanceled {
			return current, nil
		}
		return nil, mapped
	}

	payment := fromSquarePayment(resp.Payment)
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square cancel payment returned no payment")
	}
	c.log(ctx, "response", "cancel_payment", map[string]any{"payment_id": payment.ID, "status": payment.Status})
	return payment, nil
}

// GetPayment fetches the current state of a payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": paymentID})

	resp, err := c.sdk.Payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
	if err != nil {
		c.log(ctx, "error", "get_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "get payment")
	}
	payment := fromSquarePayment(resp.Payment)
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "square payment not found")
	}
	c.log(ctx, "response", "get_payment", map[string]any{"payment_id": payment.ID, "status": payment.Status})
	return payment, nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("square %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s timed out", op))
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		var details map[string]any
		for _, sqErr := range extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Code == sq.ErrorCodeIdempotencyKeyReused {
				code = pkgerrors.CodeIdempotency
				break
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeUnauthorized
				break
			}
			if _, declined := declineCodes[string(sqErr.Code)]; declined || string(sqErr.Category) == "PAYMENT_METHOD_ERROR" {
				code = pkgerrors.CodePaymentDeclined
				details = map[string]any{"gateway_code": string(sqErr.Code)}
				break
			}
		}
		wrapped := pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
		if details != nil {
			wrapped = wrapped.WithDetails(details)
		}
		return wrapped
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusPaymentRequired:
		return pkgerrors.CodePaymentDeclined
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case http.StatusRequestTimeout:
		return pkgerrors.CodeDependency
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}
