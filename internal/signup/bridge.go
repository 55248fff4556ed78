package signup

import (
	"context"
	"net/url"
	"strings"

	"babygpt/internal/identity"
	"babygpt/internal/plans"

	"github.com/rs/zerolog"
)

const detailsURL = "/?step=details"

// Identity 第三方登录或邮箱注册完成后的本地账号
type Identity struct {
	UserID  int64
	Email   string
	Profile ProfileSnapshot
}

// TokenExchanger 把 URL fragment 中的 access token 换成本地账号
type TokenExchanger interface {
	ExchangeAccessToken(ctx context.Context, accessToken string) (Identity, error)
}

// PageLoad 落地页渲染时可用的全部输入
type PageLoad struct {
	Fragment      string
	Query         url.Values
	ProfileCookie string
	StoredPlan    string
}

type Outcome struct {
	Profile          ProfileSnapshot
	Plan             *plans.Selection
	ForceDetails     bool
	OpenSignup       bool
	AuthError        string
	Identity         *Identity
	SetProfileCookie bool
	RewriteURL       string
}

type Bridge struct {
	exchanger TokenExchanger
	logger    zerolog.Logger
}

func NewBridge(exchanger TokenExchanger, logger zerolog.Logger) *Bridge {
	return &Bridge{exchanger: exchanger, logger: logger}
}

// Reconcile 按固定顺序合并 fragment token、cookie、已保存的套餐和 URL 参数
func (b *Bridge) Reconcile(ctx context.Context, in PageLoad) Outcome {
	var out Outcome

	if errParam := in.Query.Get("error"); errParam != "" {
		out.AuthError = in.Query.Get("message")
		if out.AuthError == "" {
			out.AuthError = errParam
		}
		b.logger.Warn().Str("error", errParam).Str("message", out.AuthError).Msg("auth error on landing page")
	} else if token := fragmentToken(in.Fragment); token != "" {
		b.exchangeToken(ctx, token, &out)
	}

	if out.Identity == nil && in.ProfileCookie != "" {
		profile, err := DecodeProfileCookie(in.ProfileCookie)
		if err != nil {
			b.logger.Warn().Err(err).Msg("ignoring malformed profile cookie")
		} else {
			out.Profile = profile
		}
	}

	if in.StoredPlan != "" {
		sel, err := plans.ParseSelection(in.StoredPlan)
		if err != nil {
			b.logger.Warn().Err(err).Msg("ignoring malformed stored plan")
		} else {
			out.Plan = &sel
		}
	}

	if in.Query.Get("step") == "details" {
		out.ForceDetails = true
		out.OpenSignup = true
	}
	return out
}

func (b *Bridge) exchangeToken(ctx context.Context, token string, out *Outcome) {
	if b.exchanger == nil {
		out.AuthError = identity.Describe(identity.ErrNotConfigured)
		return
	}
	id, err := b.exchanger.ExchangeAccessToken(ctx, token)
	if err != nil {
		b.logger.Error().Err(err).Msg("access token exchange failed")
		out.AuthError = identity.Describe(err)
		return
	}
	out.Identity = &id
	out.Profile = id.Profile
	out.SetProfileCookie = true
	out.RewriteURL = detailsURL
	out.ForceDetails = true
	out.OpenSignup = true
}

func fragmentToken(fragment string) string {
	fragment = strings.TrimPrefix(fragment, "#")
	if fragment == "" {
		return ""
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return ""
	}
	return values.Get("access_token")
}
