package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"babygpt/internal/config"
)

func fakeGoogle(t *testing.T, verified bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Code was already redeemed."}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/tokeninfo", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("access_token") {
		case "tok-123":
			_, _ = w.Write([]byte(`{"aud":"client","azp":"client","sub":"g-1","expires_in":"3599"}`))
		case "tok-other-app":
			_, _ = w.Write([]byte(`{"aud":"someone-else","azp":"someone-else","sub":"g-1","expires_in":"3599"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_token","error_description":"Invalid Value"}`))
		}
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok-123" && auth != "Bearer tok-other-app" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body := `{"id":"g-1","email":"pat@example.com","verified_email":true,"given_name":"Pat","family_name":"Doe"}`
		if !verified {
			body = strings.Replace(body, `"verified_email":true`, `"verified_email":false`, 1)
		}
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogle(srv *httptest.Server) *GoogleProvider {
	return NewGoogleProvider(config.GoogleOAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
	}, WithGoogleEndpoints(srv.URL+"/auth", srv.URL+"/token", srv.URL+"/userinfo"),
		WithGoogleTokenInfoURL(srv.URL+"/tokeninfo"),
		WithGoogleHTTPClient(srv.Client()))
}

func TestNewGoogleProviderRequiresCredentials(t *testing.T) {
	if p := NewGoogleProvider(config.GoogleOAuthConfig{ClientID: "x"}); p != nil {
		t.Fatalf("expected nil provider for incomplete config")
	}
}

func TestAuthCodeURLCarriesState(t *testing.T) {
	srv := fakeGoogle(t, true)
	raw := newTestGoogle(srv).AuthCodeURL("state-abc")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-abc" || q.Get("client_id") != "client" || q.Get("prompt") != "select_account" {
		t.Fatalf("unexpected auth url %s", raw)
	}
}

func TestExchangeCode(t *testing.T) {
	srv := fakeGoogle(t, true)
	user, err := newTestGoogle(srv).ExchangeCode(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Subject != "g-1" || user.Email != "pat@example.com" || user.DisplayName() != "Pat Doe" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestExchangeCodeReplayIsDescribed(t *testing.T) {
	srv := fakeGoogle(t, true)
	_, err := newTestGoogle(srv).ExchangeCode(context.Background(), "used-code")
	if !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed, got %v", err)
	}
	if got := Describe(err); got != "Code was already redeemed." {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestExchangeCodeUnverifiedEmail(t *testing.T) {
	srv := fakeGoogle(t, false)
	_, err := newTestGoogle(srv).ExchangeCode(context.Background(), "good-code")
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected ErrEmailNotVerified, got %v", err)
	}
}

func TestUserFromAccessToken(t *testing.T) {
	srv := fakeGoogle(t, true)
	p := newTestGoogle(srv)
	if _, err := p.UserFromAccessToken(context.Background(), "tok-123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.UserFromAccessToken(context.Background(), "stale"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestUserFromAccessTokenRejectsForeignAudience(t *testing.T) {
	srv := fakeGoogle(t, true)
	_, err := newTestGoogle(srv).UserFromAccessToken(context.Background(), "tok-other-app")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for a token issued to another client, got %v", err)
	}
}

func TestDescribeFallbacks(t *testing.T) {
	if got := Describe(errors.New("boom")); got != "Authentication failed" {
		t.Fatalf("unexpected %q", got)
	}
	if got := Describe(ErrUnknownProvider); got != "Sign-in provider is not available" {
		t.Fatalf("unexpected %q", got)
	}
}
