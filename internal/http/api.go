package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"babygpt/internal/analytics"
	"babygpt/internal/billing"
	"babygpt/internal/checkout"
	"babygpt/internal/email"
	"babygpt/internal/payments"
	"babygpt/internal/recaptcha"
)

const maxWebhookBodyBytes = 1 << 16

var (
	errInvalidBody     = errors.New("invalid request body")
	errVerifyRecaptcha = errors.New("Failed to verify reCAPTCHA")
	errSendEmail       = errors.New("Failed to send email")
	errRecipient       = errors.New("recipient is not allowed")
)

// handleCreateCheckoutSession 需要已登录；用户 ID 只从服务端会话读取
func (s *Server) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == 0 {
		respondError(w, http.StatusUnauthorized, checkout.ErrUnauthenticated)
		return
	}
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if req.CustomerEmail == "" {
		req.CustomerEmail = getEmailFromContext(r.Context())
	}
	if s.checkout == nil {
		s.respondServiceErrorWithContext(w, r, checkout.ErrNotConfigured, "create_checkout_session")
		return
	}

	sess, err := s.checkout.Start(r.Context(), userID, req)
	if err != nil {
		s.respondServiceErrorWithContext(w, r, err, "create_checkout_session")
		return
	}
	s.tracker.Track(analytics.CheckoutStarted, string(req.PlanInterval))
	respondJSON(w, http.StatusOK, sess)
}

type verifyRecaptchaRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleVerifyRecaptcha(w http.ResponseWriter, r *http.Request) {
	var req verifyRecaptchaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	if s.recaptcha == nil {
		s.respondServiceErrorWithContext(w, r, recaptcha.ErrNotConfigured, "verify_recaptcha")
		return
	}

	res, err := s.recaptcha.Verify(r.Context(), req.Token)
	if err != nil {
		var verr *recaptcha.VerificationError
		switch {
		case errors.Is(err, recaptcha.ErrMissingToken), errors.Is(err, recaptcha.ErrScoreTooLow), errors.As(err, &verr):
			s.requestLog(r).Warn().Err(err).Msg("reCAPTCHA rejected")
			respondError(w, http.StatusBadRequest, err)
		case errors.Is(err, recaptcha.ErrNotConfigured):
			s.respondServiceErrorWithContext(w, r, err, "verify_recaptcha")
		default:
			s.requestLog(r).Error().Err(err).Msg("error verifying reCAPTCHA")
			respondError(w, http.StatusInternalServerError, errVerifyRecaptcha)
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "score": res.Score})
}

// handleStripeWebhook 签名校验失败返回 400 且不做任何写入；
// 写库失败返回 500，由 Stripe 负责重试
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		s.respondServiceErrorWithContext(w, r, payments.ErrWebhookNotConfigured, "stripe_webhook")
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, errInvalidBody)
		return
	}

	res, err := s.relay.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	log := s.requestLog(r)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrInvalidSignature):
		log.Warn().Err(err).Msg("rejected webhook with invalid signature")
		s.tracker.Webhook("unknown", "invalid_signature")
		respondError(w, http.StatusBadRequest, payments.ErrInvalidSignature)
		return
	case errors.Is(err, billing.ErrMalformedEvent):
		log.Error().Err(err).Str("event_id", res.EventID).Msg("malformed webhook event")
		s.tracker.Webhook(res.EventType, "malformed")
		respondError(w, http.StatusBadRequest, billing.ErrMalformedEvent)
		return
	default:
		s.tracker.Webhook(res.EventType, "error")
		s.respondServiceErrorWithContext(w, r, err, "stripe_webhook")
		return
	}

	outcome := "ignored"
	if res.Handled {
		outcome = "handled"
		s.tracker.Track(analytics.CheckoutCompleted, "")
	}
	s.tracker.Webhook(res.EventType, outcome)
	log.Info().Str("event_id", res.EventID).Str("event_type", res.EventType).Str("outcome", outcome).Msg("stripe webhook")
	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type contactRequest struct {
	Email   string `json:"email"`
	Message string `json:"message"`
	To      string `json:"to"`
}

// handleContact 只允许发送到配置的收件人，未指定时使用第一个
func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidBody)
		return
	}
	to := strings.TrimSpace(req.To)
	if to == "" && len(s.cfg.ContactRecipients) > 0 {
		to = s.cfg.ContactRecipients[0]
	}
	if to == "" || !s.cfg.ContactRecipientAllowed(to) {
		respondError(w, http.StatusBadRequest, errRecipient)
		return
	}
	if s.mailer == nil {
		s.requestLog(r).Error().Msg("contact mailer not configured")
		respondError(w, http.StatusInternalServerError, errSendEmail)
		return
	}

	err := s.mailer.SendContactMessage(r.Context(), s.cfg.ContactFromEmail, email.ContactMessage{
		Email:   req.Email,
		Message: req.Message,
		To:      to,
	})
	if err != nil {
		if errors.Is(err, email.ErrInvalidMessage) {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		s.requestLog(r).Error().Err(err).Msg("email error")
		respondError(w, http.StatusInternalServerError, errSendEmail)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
