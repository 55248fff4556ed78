package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"babygpt/internal/checkout"
	"babygpt/internal/email"
	"babygpt/internal/identity"
	"babygpt/internal/payments"
	"babygpt/internal/recaptcha"
	"babygpt/internal/services"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, ErrorResponse{Error: err.Error()})
}

var errInternal = errors.New("Internal server error")

// respondServiceErrorWithContext 把各包的哨兵错误映射为 HTTP 状态码
// 外部服务和未知错误只记录日志，对外返回通用信息
func (s *Server) respondServiceErrorWithContext(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, checkout.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, checkout.ErrUnauthenticated)
	case errors.Is(err, checkout.ErrInvalidRequest), errors.Is(err, services.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, services.ErrNotFound)
	case errors.Is(err, checkout.ErrNotConfigured), errors.Is(err, payments.ErrNotConfigured),
		errors.Is(err, payments.ErrWebhookNotConfigured), errors.Is(err, recaptcha.ErrNotConfigured),
		errors.Is(err, email.ErrEmailNotConfigured), errors.Is(err, identity.ErrSessionNotConfigured):
		s.requestLog(r).Error().Err(err).Str("op", op).Msg("configuration error")
		respondError(w, http.StatusInternalServerError, errInternal)
	case errors.Is(err, checkout.ErrProvider):
		respondError(w, http.StatusInternalServerError, checkout.ErrProvider)
	default:
		s.requestLog(r).Error().Err(err).Str("op", op).Msg("internal server error")
		respondError(w, http.StatusInternalServerError, errInternal)
	}
}
