package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("RECAPTCHA_MIN_SCORE", "")
	cfg := Load()
	if cfg.IsProduction() {
		t.Fatalf("expected non-production default")
	}
	if cfg.RecaptchaMinScore != 0.5 {
		t.Fatalf("unexpected min score: %v", cfg.RecaptchaMinScore)
	}
	if cfg.PasswordMinScore != 3 {
		t.Fatalf("unexpected password min score: %d", cfg.PasswordMinScore)
	}
	if cfg.SessionStoreTTL() != time.Hour {
		t.Fatalf("unexpected session store ttl: %s", cfg.SessionStoreTTL())
	}
}

func TestStripeSecretKeyFollowsEnvironment(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY_TEST", "sk_test_1")
	t.Setenv("STRIPE_SECRET_KEY_PROD", "sk_live_1")

	t.Setenv("APP_ENV", "development")
	if got := Load().StripeSecretKey(); got != "sk_test_1" {
		t.Fatalf("expected test key, got %q", got)
	}
	t.Setenv("APP_ENV", "production")
	if got := Load().StripeSecretKey(); got != "sk_live_1" {
		t.Fatalf("expected live key, got %q", got)
	}
}

func TestSiteURLTrailingSlash(t *testing.T) {
	t.Setenv("SITE_URL", "https://babygpt.example/")
	if got := Load().SiteURL; got != "https://babygpt.example" {
		t.Fatalf("unexpected site url: %q", got)
	}
}

func TestContactRecipients(t *testing.T) {
	t.Setenv("CONTACT_RECIPIENTS", " hello@babygpt.example, ,team@babygpt.example")
	cfg := Load()
	if len(cfg.ContactRecipients) != 2 {
		t.Fatalf("unexpected recipients: %v", cfg.ContactRecipients)
	}
	if !cfg.ContactRecipientAllowed("HELLO@babygpt.example") {
		t.Fatalf("expected case-insensitive match")
	}
	if cfg.ContactRecipientAllowed("someone@else.example") {
		t.Fatalf("unexpected recipient allowed")
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "abc")
	t.Setenv("SECURE_COOKIES", "maybe")
	cfg := Load()
	if cfg.RedisDB != 0 || cfg.SecureCookies {
		t.Fatalf("expected defaults, got db=%d secure=%v", cfg.RedisDB, cfg.SecureCookies)
	}
}
