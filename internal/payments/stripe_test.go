package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stripe/stripe-go/v76"
)

func testBackends(srv *httptest.Server) *stripe.Backends {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
}

func TestCreateCustomerSendsMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("email") != "pat@example.com" || r.PostForm.Get("metadata[user_id]") != "7" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_123","object":"customer"}`))
	}))
	defer srv.Close()

	g := NewStripeGateway("sk_test_123", testBackends(srv))
	id, err := g.CreateCustomer(context.Background(), CustomerParams{UserID: 7, Email: "pat@example.com", Name: "Pat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "cus_123" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestCreateCheckoutSessionParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		want := map[string]string{
			"customer":                   "cus_123",
			"mode":                       "subscription",
			"line_items[0][price]":       "price_month",
			"line_items[0][quantity]":    "1",
			"payment_method_types[0]":    "card",
			"payment_method_types[1]":    "paypal",
			"billing_address_collection": "required",
			"customer_update[name]":      "auto",
			"customer_update[address]":   "auto",
			"allow_promotion_codes":      "true",
			"success_url":                "https://babygpt.example/success?session_id={CHECKOUT_SESSION_ID}",
			"cancel_url":                 "https://babygpt.example/?step=details",
			"metadata[plan_interval]":    "monthly",
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("%s: got %q want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1","customer":"cus_123"}`))
	}))
	defer srv.Close()

	g := NewStripeGateway("sk_test_123", testBackends(srv))
	sess, err := g.CreateCheckoutSession(context.Background(), SessionParams{
		CustomerID: "cus_123",
		PriceID:    "price_month",
		SuccessURL: "https://babygpt.example/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://babygpt.example/?step=details",
		Metadata:   map[string]string{"plan_interval": "monthly"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.ID != "cs_test_1" || sess.CustomerID != "cus_123" || sess.URL == "" {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestProviderErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such price"}}`))
	}))
	defer srv.Close()

	g := NewStripeGateway("sk_test_123", testBackends(srv))
	_, err := g.CreateCheckoutSession(context.Background(), SessionParams{CustomerID: "cus_1", PriceID: "price_x"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	typ, code, msg, ok := StripeErrorDetails(err)
	if !ok || typ != "invalid_request_error" || code != "resource_missing" || msg != "No such price" {
		t.Fatalf("unexpected details: %q %q %q %v", typ, code, msg, ok)
	}
}

func TestGatewayWithoutKey(t *testing.T) {
	g := NewStripeGateway("", nil)
	if _, err := g.CreateCustomer(context.Background(), CustomerParams{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := g.CreateCheckoutSession(context.Background(), SessionParams{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
