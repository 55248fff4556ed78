package httpapi

import (
	"context"
	"net/http"
	"strings"

	"babygpt/internal/identity"

	"github.com/google/uuid"
)

type contextKey string

const (
	contextKeyUserID contextKey = "user_id"
	contextKeyEmail  contextKey = "email"
	contextKeySID    contextKey = "sid"
)

const (
	sessionCookieName = "babygpt_session"
	sidCookieName     = "babygpt_sid"
)

// authenticate 从 session cookie 或 Bearer token 解析当前用户
// 未登录不拦截，需要登录的接口自行判断
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(sessionCookieName); err == nil {
				token = c.Value
			}
		}
		if token == "" || s.sessions == nil {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := s.sessions.Parse(token)
		if err != nil {
			s.requestLog(r).Debug().Err(err).Msg("ignoring invalid session token")
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, contextKeyEmail, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// browserSession 保证每个浏览器都有一个 sid cookie，用于保存向导状态
func (s *Server) browserSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := ""
		if c, err := r.Cookie(sidCookieName); err == nil {
			if _, err := uuid.Parse(c.Value); err == nil {
				sid = c.Value
			}
		}
		if sid == "" {
			sid = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     sidCookieName,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.cfg.SecureCookies,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeySID, sid)))
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, userID int64, email string) error {
	if s.sessions == nil {
		return identity.ErrSessionNotConfigured
	}
	token, err := s.sessions.Mint(userID, email)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// getUserIDFromContext 从 context 获取当前用户 ID，未登录返回 0
func getUserIDFromContext(ctx context.Context) int64 {
	if userID, ok := ctx.Value(contextKeyUserID).(int64); ok {
		return userID
	}
	return 0
}

func getEmailFromContext(ctx context.Context) string {
	if email, ok := ctx.Value(contextKeyEmail).(string); ok {
		return email
	}
	return ""
}

func getSIDFromContext(ctx context.Context) string {
	if sid, ok := ctx.Value(contextKeySID).(string); ok {
		return sid
	}
	return ""
}
