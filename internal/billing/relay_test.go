package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"babygpt/internal/models"
	"babygpt/internal/payments"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testSecret = "whsec_relay"

type recordingStore struct {
	calls []models.BillingProfile
	err   error
}

func (s *recordingStore) UpsertBillingProfile(_ context.Context, p models.BillingProfile) error {
	s.calls = append(s.calls, p)
	return s.err
}

func sign(t *testing.T, secret, eventType, object string) ([]byte, string) {
	t.Helper()
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"api_version":%q,"data":{"object":%s}}`, eventType, stripe.APIVersion, object))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	return signed.Payload, signed.Header
}

const completedSession = `{"id":"cs_1","object":"checkout.session","customer":"cus_42",
	"customer_details":{"name":"Pat Doe","email":"pat@example.com",
	"address":{"line1":"1 Main St","city":"Springfield","postal_code":"12345","country":"US"}}}`

func newRelay(store Store) *Relay {
	return NewRelay(payments.NewStripeWebhookVerifier(testSecret), store, zerolog.Nop())
}

func TestInvalidSignatureNeverTouchesStore(t *testing.T) {
	store := &recordingStore{}
	payload, header := sign(t, "whsec_forged", EventCheckoutSessionCompleted, completedSession)

	_, err := newRelay(store).Handle(context.Background(), payload, header)
	if !errors.Is(err, payments.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(store.calls) != 0 {
		t.Fatalf("store must not be called, got %d calls", len(store.calls))
	}
}

func TestTamperedPayloadRejected(t *testing.T) {
	store := &recordingStore{}
	payload, header := sign(t, testSecret, EventCheckoutSessionCompleted, completedSession)
	payload = append(payload, ' ')

	if _, err := newRelay(store).Handle(context.Background(), payload, header); !errors.Is(err, payments.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(store.calls) != 0 {
		t.Fatalf("store must not be called")
	}
}

func TestCheckoutCompletedUpsertsOnce(t *testing.T) {
	store := &recordingStore{}
	payload, header := sign(t, testSecret, EventCheckoutSessionCompleted, completedSession)

	res, err := newRelay(store).Handle(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Handled || res.EventType != EventCheckoutSessionCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.calls) != 1 {
		t.Fatalf("expected exactly one upsert, got %d", len(store.calls))
	}
	got := store.calls[0]
	if got.StripeCustomerID != "cus_42" || got.Name != "Pat Doe" || got.Email != "pat@example.com" {
		t.Fatalf("unexpected profile %+v", got)
	}
	if got.Address.City != "Springfield" || got.Address.PostalCode != "12345" || got.UpdatedAt.IsZero() {
		t.Fatalf("unexpected address/timestamp %+v", got)
	}
}

func TestOtherEventsIgnored(t *testing.T) {
	store := &recordingStore{}
	payload, header := sign(t, testSecret, "invoice.paid", `{"id":"in_1","object":"invoice"}`)

	res, err := newRelay(store).Handle(context.Background(), payload, header)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Handled || len(store.calls) != 0 {
		t.Fatalf("expected event to be ignored, got %+v calls=%d", res, len(store.calls))
	}
}

func TestStoreFailurePropagates(t *testing.T) {
	store := &recordingStore{err: errors.New("connection reset")}
	payload, header := sign(t, testSecret, EventCheckoutSessionCompleted, completedSession)

	if _, err := newRelay(store).Handle(context.Background(), payload, header); !errors.Is(err, ErrStoreFailed) {
		t.Fatalf("expected ErrStoreFailed, got %v", err)
	}
}

func TestSessionWithoutCustomerSkipped(t *testing.T) {
	store := &recordingStore{}
	payload, header := sign(t, testSecret, EventCheckoutSessionCompleted, `{"id":"cs_2","object":"checkout.session"}`)

	res, err := newRelay(store).Handle(context.Background(), payload, header)
	if err != nil || res.Handled || len(store.calls) != 0 {
		t.Fatalf("expected skip, got res=%+v err=%v calls=%d", res, err, len(store.calls))
	}
}
