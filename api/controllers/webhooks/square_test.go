package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/internal/payments"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/square"
)

const testNotificationURL = "https://fulfillment.example.com/api/v1/webhooks/square"

func TestSquareWebhook_SuccessAndIdempotent(t *testing.T) {
	payload := buildSquareEvent(t, "payment.updated", "COMPLETED")
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, fakeSigningClient{secret: "secret"}, newGuard(t), nil)

	rec := postEvent(handler, payload, square.Sign("secret", testNotificationURL, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.calls != 1 {
		t.Fatalf("expected service called once, got %d", service.calls)
	}

	rec2 := postEvent(handler, payload, square.Sign("secret", testNotificationURL, payload))
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", rec2.Code)
	}
	if service.calls != 1 {
		t.Fatalf("duplicate should not increment calls, got %d", service.calls)
	}
}

func TestSquareWebhook_InvalidSignature(t *testing.T) {
	payload := buildSquareEvent(t, "payment.updated", "COMPLETED")
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, fakeSigningClient{secret: "secret"}, newGuard(t), nil)

	// signed without the notification url
	mac := square.Sign("secret", "", payload)
	rec := postEvent(handler, payload, mac)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid signature, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestSquareWebhook_FailureAllowsRedelivery(t *testing.T) {
	payload := buildSquareEvent(t, "payment.updated", "CANCELED")
	service := &fakeSquareWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "db down")}
	handler := SquareWebhook(service, fakeSigningClient{secret: "secret"}, newGuard(t), nil)

	rec := postEvent(handler, payload, square.Sign("secret", testNotificationURL, payload))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	service.err = nil
	rec = postEvent(handler, payload, square.Sign("secret", testNotificationURL, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d", rec.Code)
	}
	if service.calls != 2 {
		t.Fatalf("expected redelivery to reach the service, got %d calls", service.calls)
	}
}

func newGuard(t *testing.T) *payments.WebhookGuard {
	t.Helper()
	guard, err := payments.NewWebhookGuard(newInMemoryStore(), time.Minute, "square-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func postEvent(handler http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", bytes.NewReader(payload))
	req.Header.Set(square.SignatureHeader, signature)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func buildSquareEvent(t *testing.T, eventType, status string) []byte {
	t.Helper()
	paymentID := "pay_" + uuid.NewString()
	event := payments.WebhookEvent{
		EventID: "evt_" + uuid.NewString(),
		Type:    eventType,
		Data: payments.WebhookData{
			Type: "payment",
			ID:   paymentID,
			Object: payments.WebhookObject{
				Payment: &payments.WebhookPayment{ID: paymentID, Status: status},
			},
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return payload
}

type fakeSquareWebhookService struct {
	calls int
	err   error
}

func (f *fakeSquareWebhookService) HandleWebhook(ctx context.Context, event *payments.WebhookEvent) error {
	f.calls++
	if event == nil {
		return errors.New("nil event")
	}
	return f.err
}

type fakeSigningClient struct {
	secret string
}

func (c fakeSigningClient) SigningSecret() string   { return c.secret }
func (c fakeSigningClient) NotificationURL() string { return testNotificationURL }

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: make(map[string]string)}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("ffe:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func TestSquareWebhook_RejectsUnsignedAndOversized(t *testing.T) {
	service := &fakeSquareWebhookService{}
	handler := SquareWebhook(service, fakeSigningClient{secret: "secret"}, newGuard(t), nil)

	payload := buildSquareEvent(t, "payment.updated", "COMPLETED")
	if rec := postEvent(handler, payload, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rec.Code)
	}

	huge := bytes.Repeat([]byte("x"), maxWebhookBody+1)
	if rec := postEvent(handler, huge, square.Sign("secret", testNotificationURL, huge)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
	if service.calls != 0 {
		t.Fatalf("service should not be invoked, got %d calls", service.calls)
	}
}
