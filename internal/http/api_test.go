package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"babygpt/internal/checkout"
	"babygpt/internal/recaptcha"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func decodeBody(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode body %q: %v", raw, err)
	}
	return body
}

func TestCreateCheckoutSessionRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonRequest(http.MethodPost, "/api/create-checkout-session",
		`{"planInterval":"monthly","customerName":"Pat","customerEmail":"pat@example.com"}`))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := decodeBody(t, rec.Body.Bytes())["error"]; got != "Not authenticated" {
		t.Fatalf("unexpected error %v", got)
	}
	if env.checkout.calls != 0 {
		t.Fatalf("checkout must not be called for anonymous requests")
	}
}

func TestCreateCheckoutSessionWithBearer(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.sessions.Mint(7, "pat@example.com")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	req := jsonRequest(http.MethodPost, "/api/create-checkout-session", `{"planInterval":"annually","customerName":"Pat"}`)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec.Body.Bytes())
	if body["sessionId"] != "cs_test_1" || body["customerId"] != "cus_1" {
		t.Fatalf("unexpected body %v", body)
	}
	if env.checkout.lastUserID != 7 || env.checkout.last.CustomerEmail != "pat@example.com" {
		t.Fatalf("unexpected checkout call %+v user=%d", env.checkout.last, env.checkout.lastUserID)
	}
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: no price", checkout.ErrNotConfigured), http.StatusInternalServerError},
		{fmt.Errorf("%w: card", checkout.ErrProvider), http.StatusInternalServerError},
		{fmt.Errorf("%w: bad interval", checkout.ErrInvalidRequest), http.StatusBadRequest},
	}
	for _, tc := range cases {
		env := newTestEnv(t)
		env.checkout.err = tc.err
		token, _ := env.sessions.Mint(7, "pat@example.com")
		req := jsonRequest(http.MethodPost, "/api/create-checkout-session", `{"planInterval":"monthly"}`)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})

		rec := env.do(req)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "no price") || strings.Contains(rec.Body.String(), "card") {
			t.Fatalf("provider details leaked: %s", rec.Body.String())
		}
	}
}

func TestVerifyRecaptcha(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{"missing token", `{}`, nil, http.StatusBadRequest, "reCAPTCHA token is required"},
		{"failed", `{"token":"t"}`, &recaptcha.VerificationError{Codes: []string{"timeout-or-duplicate"}}, http.StatusBadRequest, "reCAPTCHA verification failed: timeout-or-duplicate"},
		{"low score", `{"token":"t"}`, recaptcha.ErrScoreTooLow, http.StatusBadRequest, "reCAPTCHA score too low"},
		{"not configured", `{"token":"t"}`, recaptcha.ErrNotConfigured, http.StatusInternalServerError, "Internal server error"},
		{"upstream", `{"token":"t"}`, errors.New("dial tcp: timeout"), http.StatusInternalServerError, "Failed to verify reCAPTCHA"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.bot.err = tc.err
			rec := env.do(jsonRequest(http.MethodPost, "/api/verify-recaptcha", tc.body))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if got := decodeBody(t, rec.Body.Bytes())["error"]; got != tc.msg {
				t.Fatalf("unexpected error %v", got)
			}
		})
	}
}

func TestVerifyRecaptchaSuccess(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonRequest(http.MethodPost, "/api/verify-recaptcha", `{"token":"t"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := decodeBody(t, rec.Body.Bytes())
	if body["success"] != true || body["score"] != 0.9 {
		t.Fatalf("unexpected body %v", body)
	}
}

func signedWebhook(secret, eventType, object string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"api_version":%q,"data":{"object":%s}}`, eventType, stripe.APIVersion, object))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})
	return signed.Payload, signed.Header
}

const completedCheckout = `{"id":"cs_1","object":"checkout.session","customer":"cus_42",
	"customer_details":{"name":"Pat Lee","email":"pat@example.com","address":{"line1":"1 Main St","country":"US"}}}`

func webhookRequest(payload []byte, sig string) *http.Request {
	req := jsonRequest(http.MethodPost, "/api/webhooks/stripe", string(payload))
	req.Header.Set("Stripe-Signature", sig)
	return req
}

func TestStripeWebhookInvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	payload, sig := signedWebhook("whsec_forged", "checkout.session.completed", completedCheckout)

	rec := env.do(webhookRequest(payload, sig))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(env.billing.calls) != 0 {
		t.Fatalf("store must not be called")
	}
}

func TestStripeWebhookCheckoutCompleted(t *testing.T) {
	env := newTestEnv(t)
	payload, sig := signedWebhook(testWebhookSecret, "checkout.session.completed", completedCheckout)

	rec := env.do(webhookRequest(payload, sig))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec.Body.Bytes()); body["received"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if len(env.billing.calls) != 1 || env.billing.calls[0].StripeCustomerID != "cus_42" {
		t.Fatalf("expected one upsert for cus_42, got %+v", env.billing.calls)
	}
}

func TestStripeWebhookOtherEventIgnored(t *testing.T) {
	env := newTestEnv(t)
	payload, sig := signedWebhook(testWebhookSecret, "invoice.paid", `{"id":"in_1","object":"invoice"}`)

	rec := env.do(webhookRequest(payload, sig))
	if rec.Code != http.StatusOK || len(env.billing.calls) != 0 {
		t.Fatalf("unexpected result %d calls=%d", rec.Code, len(env.billing.calls))
	}
}

func TestStripeWebhookStoreFailureIs500(t *testing.T) {
	env := newTestEnv(t)
	env.billing.err = errors.New("connection reset")
	payload, sig := signedWebhook(testWebhookSecret, "checkout.session.completed", completedCheckout)

	rec := env.do(webhookRequest(payload, sig))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider retries, got %d", rec.Code)
	}
}

func TestStripeWebhookNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.server.relay = nil
	payload, sig := signedWebhook(testWebhookSecret, "checkout.session.completed", completedCheckout)

	rec := env.do(webhookRequest(payload, sig))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestContact(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonRequest(http.MethodPost, "/api/contact",
		`{"email":"pat@example.com","message":"Hello","to":"sales@babygpt.example"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.mailer.sent) != 1 || env.mailer.sent[0].To != "sales@babygpt.example" {
		t.Fatalf("unexpected messages %+v", env.mailer.sent)
	}

	rec = env.do(jsonRequest(http.MethodPost, "/api/contact", `{"email":"pat@example.com","message":"Hi"}`))
	if rec.Code != http.StatusOK || env.mailer.sent[1].To != "support@babygpt.example" {
		t.Fatalf("expected default recipient, got %d %+v", rec.Code, env.mailer.sent)
	}
}

func TestContactRejectsUnknownRecipient(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(jsonRequest(http.MethodPost, "/api/contact",
		`{"email":"pat@example.com","message":"Hello","to":"attacker@example.com"}`))
	if rec.Code != http.StatusBadRequest || len(env.mailer.sent) != 0 {
		t.Fatalf("unexpected result %d %+v", rec.Code, env.mailer.sent)
	}
}

func TestContactSendFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("resend: 502")
	rec := env.do(jsonRequest(http.MethodPost, "/api/contact", `{"email":"pat@example.com","message":"Hello"}`))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decodeBody(t, rec.Body.Bytes())["error"]; got != "Failed to send email" {
		t.Fatalf("unexpected error %v", got)
	}
}
