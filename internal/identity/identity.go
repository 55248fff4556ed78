// Package identity 对接第三方 OAuth 登录并签发本站的会话 token
package identity

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
)

var (
	ErrNotConfigured    = errors.New("identity provider not configured")
	ErrUnknownProvider  = errors.New("unknown identity provider")
	ErrExchangeFailed   = errors.New("authorization code exchange failed")
	ErrInvalidToken     = errors.New("access token rejected by provider")
	ErrEmailNotVerified = errors.New("email address is not verified")
	ErrMissingEmail     = errors.New("provider did not return an email address")
)

// User 第三方返回的用户信息
type User struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
}

// DisplayName 优先使用全名，否则拼接名和姓
func (u User) DisplayName() string {
	if n := strings.TrimSpace(u.Name); n != "" {
		return n
	}
	return strings.TrimSpace(u.GivenName + " " + u.FamilyName)
}

type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (User, error)
	UserFromAccessToken(ctx context.Context, accessToken string) (User, error)
}

// Describe 把认证错误转换为可以放进重定向 URL 的可读信息
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorDescription != "" {
			return re.ErrorDescription
		}
		if re.ErrorCode == "invalid_grant" {
			return "Authorization code is invalid or has already been used"
		}
	}
	switch {
	case errors.Is(err, ErrEmailNotVerified):
		return "Email address is not verified"
	case errors.Is(err, ErrMissingEmail):
		return "Email address is required"
	case errors.Is(err, ErrInvalidToken):
		return "Session token is invalid or expired"
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrUnknownProvider):
		return "Sign-in provider is not available"
	default:
		return "Authentication failed"
	}
}
