package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendContactMessage(t *testing.T) {
	var got sendEmailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer re_test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	c := NewResendClient("re_test").WithEndpoint(srv.URL)
	err := c.SendContactMessage(context.Background(), "BabyGPT <noreply@babygpt.example>", ContactMessage{
		Email:   "parent@example.com",
		Message: "Hi <b>team</b>\nthanks",
		To:      "hello@babygpt.example",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Subject != ContactSubject {
		t.Fatalf("unexpected subject %q", got.Subject)
	}
	if len(got.To) != 1 || got.To[0] != "hello@babygpt.example" || got.ReplyTo != "parent@example.com" {
		t.Fatalf("unexpected addressing: %+v", got)
	}
	if strings.Contains(got.HTML, "<b>team</b>") || !strings.Contains(got.HTML, "&lt;b&gt;team&lt;/b&gt;<br>thanks") {
		t.Fatalf("message body not escaped: %s", got.HTML)
	}
}

func TestSendFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewResendClient("re_test").WithEndpoint(srv.URL)
	err := c.Send(context.Background(), Message{From: "a@b.c", To: "d@e.f", Subject: "s", HTML: "h"})
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}

func TestNotConfigured(t *testing.T) {
	c := NewResendClient("")
	err := c.SendContactMessage(context.Background(), "from@x.y", ContactMessage{Email: "a@b.c", Message: "m", To: "t@x.y"})
	if !errors.Is(err, ErrEmailNotConfigured) {
		t.Fatalf("expected ErrEmailNotConfigured, got %v", err)
	}
}

func TestContactMessageValidation(t *testing.T) {
	c := NewResendClient("re_test")
	if err := c.SendContactMessage(context.Background(), "from@x.y", ContactMessage{Email: "a@b.c", To: "t@x.y"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}
