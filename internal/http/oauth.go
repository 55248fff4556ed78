package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"

	"babygpt/internal/identity"
	"babygpt/internal/models"
	"babygpt/internal/signup"

	"github.com/go-chi/chi/v5"
)

const (
	oauthStateCookieName = "babygpt_oauth_state"
	oauthStateMaxAge     = 600

	msgInvalidAuthResponse = "Invalid authentication response"
	msgInvalidAuthState    = "Invalid authentication state"
	msgAccountDisabled     = "This account has been disabled"
	msgSignInFailed        = "Could not complete sign in"
)

// oauthState OAuth state 参数结构，包含 CSRF token 和 provider 名称
type oauthState struct {
	CSRFToken string `json:"csrf_token"`
	Provider  string `json:"provider"`
}

// generateCSRFToken 生成随机 CSRF 令牌
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func encodeOAuthState(state oauthState) (string, error) {
	jsonData, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(jsonData), nil
}

func decodeOAuthState(encoded string) (oauthState, error) {
	var state oauthState
	jsonData, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return state, err
	}
	err = json.Unmarshal(jsonData, &state)
	return state, err
}

func authErrorURL(msg string) string {
	return "/?" + url.Values{"error": {"auth"}, "message": {msg}}.Encode()
}

func (s *Server) defaultProvider() identity.Provider {
	if len(s.providers) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return s.providers[names[0]]
}

// handleOAuthStart 重定向到第三方授权页面，CSRF token 同时写入 state 和 cookie
func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.providers[chi.URLParam(r, "provider")]
	if !ok {
		http.Redirect(w, r, authErrorURL(identity.Describe(identity.ErrUnknownProvider)), http.StatusFound)
		return
	}

	csrfToken, err := generateCSRFToken()
	if err != nil {
		s.respondServiceErrorWithContext(w, r, err, "generate_csrf_token")
		return
	}
	encodedState, err := encodeOAuthState(oauthState{CSRFToken: csrfToken, Provider: provider.Name()})
	if err != nil {
		s.respondServiceErrorWithContext(w, r, err, "encode_oauth_state")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    csrfToken,
		Path:     "/auth",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, provider.AuthCodeURL(encodedState), http.StatusFound)
}

// handleOAuthCallback 用授权码换取身份，成功后写入会话和 user_profile cookie
// 授权码只能使用一次，重放时直接展示 provider 返回的错误
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	log := s.requestLog(r)

	redirectWithError := func(msg string) {
		http.Redirect(w, r, authErrorURL(msg), http.StatusFound)
	}

	if errCode := q.Get("error"); errCode != "" {
		msg := q.Get("error_description")
		if msg == "" {
			msg = errCode
		}
		log.Warn().Str("error", errCode).Msg("provider returned oauth error")
		redirectWithError(msg)
		return
	}

	code := q.Get("code")
	if code == "" {
		redirectWithError(msgInvalidAuthResponse)
		return
	}

	state, err := decodeOAuthState(q.Get("state"))
	stateCookie, cookieErr := r.Cookie(oauthStateCookieName)
	if err != nil || cookieErr != nil || state.CSRFToken == "" ||
		subtle.ConstantTimeCompare([]byte(state.CSRFToken), []byte(stateCookie.Value)) != 1 {
		log.Warn().Msg("oauth state mismatch")
		redirectWithError(msgInvalidAuthState)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookieName, Value: "", Path: "/auth", MaxAge: -1})

	provider, ok := s.providers[state.Provider]
	if !ok {
		redirectWithError(identity.Describe(identity.ErrUnknownProvider))
		return
	}

	providerUser, err := provider.ExchangeCode(r.Context(), code)
	if err != nil {
		log.Error().Err(err).Str("provider", provider.Name()).Msg("code exchange failed")
		redirectWithError(identity.Describe(err))
		return
	}

	id, err := linkAccount(r.Context(), s.users, providerUser)
	if err != nil {
		log.Error().Err(err).Str("provider", provider.Name()).Msg("linking oauth account failed")
		if errors.Is(err, errAccountDisabled) {
			redirectWithError(msgAccountDisabled)
			return
		}
		redirectWithError(msgSignInFailed)
		return
	}

	if err := s.completeSignIn(w, r, id); err != nil {
		log.Error().Err(err).Int64("user_id", id.UserID).Msg("issuing session failed")
		redirectWithError(msgSignInFailed)
		return
	}
	log.Info().Int64("user_id", id.UserID).Str("provider", provider.Name()).Msg("oauth sign in")
	http.Redirect(w, r, "/?step=details", http.StatusFound)
}

// completeSignIn 写入会话 cookie 和 user_profile cookie
func (s *Server) completeSignIn(w http.ResponseWriter, r *http.Request, id signup.Identity) error {
	if err := s.setSessionCookie(w, id.UserID, id.Email); err != nil {
		return err
	}
	c, err := signup.NewProfileCookie(id.Profile, s.cfg.SecureCookies)
	if err != nil {
		return err
	}
	http.SetCookie(w, c)
	return nil
}

type tokenExchangeRequest struct {
	Fragment string `json:"fragment"`
}

// handleTokenExchange 处理落地页脚本提交的 URL fragment（access_token）
func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var req tokenExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	sid := getSIDFromContext(r.Context())
	storedPlan, err := s.states.StoredPlan(r.Context(), sid)
	if err != nil {
		s.requestLog(r).Warn().Err(err).Msg("reading stored plan failed")
	}
	out := s.bridge.Reconcile(r.Context(), signup.PageLoad{
		Fragment:   req.Fragment,
		Query:      url.Values{},
		StoredPlan: storedPlan,
	})
	if out.Identity == nil {
		msg := out.AuthError
		if msg == "" {
			msg = msgInvalidAuthResponse
		}
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": msg, "redirect": authErrorURL(msg)})
		return
	}

	if err := s.completeSignIn(w, r, *out.Identity); err != nil {
		s.respondServiceErrorWithContext(w, r, err, "complete_sign_in")
		return
	}
	if _, err := s.wizard.Restore(r.Context(), sid, out); err != nil {
		s.requestLog(r).Warn().Err(err).Msg("saving wizard state failed")
	}
	respondJSON(w, http.StatusOK, map[string]string{"redirect": out.RewriteURL})
}

var errAccountDisabled = errors.New("account disabled")

func linkAccount(ctx context.Context, users UserStore, u identity.User) (signup.Identity, error) {
	user, _, err := users.GetOrCreateOAuthUser(ctx, u.Provider, u.Subject, u.Email, u.DisplayName())
	if err != nil {
		return signup.Identity{}, err
	}
	if user.Status != models.UserStatusActive {
		return signup.Identity{}, errAccountDisabled
	}
	profile := signup.ProfileFromUser(u)
	if profile.Name == "" {
		profile.Name = user.Name
	}
	profile.Email = user.Email
	return signup.Identity{UserID: user.ID, Email: user.Email, Profile: profile}, nil
}

// tokenAccounts 实现 signup.TokenExchanger
type tokenAccounts struct {
	provider identity.Provider
	users    UserStore
}

func (t *tokenAccounts) ExchangeAccessToken(ctx context.Context, accessToken string) (signup.Identity, error) {
	if t.provider == nil {
		return signup.Identity{}, identity.ErrNotConfigured
	}
	u, err := t.provider.UserFromAccessToken(ctx, accessToken)
	if err != nil {
		return signup.Identity{}, err
	}
	return linkAccount(ctx, t.users, u)
}

// passwordAccounts 实现 signup.AccountRegistrar
type passwordAccounts struct {
	users UserStore
}

func (p *passwordAccounts) Register(ctx context.Context, email, password string) (signup.Identity, error) {
	user, _, err := p.users.RegisterWithPassword(ctx, email, password)
	if err != nil {
		return signup.Identity{}, err
	}
	return signup.Identity{
		UserID:  user.ID,
		Email:   user.Email,
		Profile: signup.ProfileSnapshot{Name: user.Name, Email: user.Email},
	}, nil
}
