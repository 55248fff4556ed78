package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"babygpt/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
)

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// googleTokenInfo tokeninfo 接口返回的字段子集
type googleTokenInfo struct {
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
}

type GoogleProvider struct {
	oauth        *oauth2.Config
	userInfoURL  string
	tokenInfoURL string
	httpClient   *http.Client
}

var _ Provider = (*GoogleProvider)(nil)

type GoogleOption func(*GoogleProvider)

// WithGoogleEndpoints 覆盖 token 与 userinfo 地址
func WithGoogleEndpoints(authURL, tokenURL, userInfoURL string) GoogleOption {
	return func(p *GoogleProvider) {
		p.oauth.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
		p.userInfoURL = userInfoURL
	}
}

func WithGoogleTokenInfoURL(u string) GoogleOption {
	return func(p *GoogleProvider) { p.tokenInfoURL = u }
}

func WithGoogleHTTPClient(hc *http.Client) GoogleOption {
	return func(p *GoogleProvider) { p.httpClient = hc }
}

// NewGoogleProvider 在凭据不完整时返回 nil
func NewGoogleProvider(cfg config.GoogleOAuthConfig, opts ...GoogleOption) *GoogleProvider {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil
	}
	p := &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL:  googleUserInfoURL,
		tokenInfoURL: googleTokenInfoURL,
		httpClient:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (p *GoogleProvider) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// ExchangeCode 用授权码换取 token 并读取用户信息；授权码只能使用一次，由 Google 保证
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (User, error) {
	ctx = p.ctx(ctx)
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	return p.fetchUser(ctx, p.oauth.Client(ctx, token))
}

// UserFromAccessToken 只接受签发给本应用 client ID 的 access token
func (p *GoogleProvider) UserFromAccessToken(ctx context.Context, accessToken string) (User, error) {
	if accessToken == "" {
		return User{}, ErrInvalidToken
	}
	info, err := p.tokenInfo(ctx, accessToken)
	if err != nil {
		return User{}, err
	}
	if info.Audience != p.oauth.ClientID {
		return User{}, fmt.Errorf("%w: issued to another client", ErrInvalidToken)
	}
	ctx = p.ctx(ctx)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	user, err := p.fetchUser(ctx, oauth2.NewClient(ctx, src))
	if err != nil {
		return User{}, err
	}
	if info.Subject != "" && info.Subject != user.Subject {
		return User{}, fmt.Errorf("%w: subject mismatch", ErrInvalidToken)
	}
	return user, nil
}

func (p *GoogleProvider) tokenInfo(ctx context.Context, accessToken string) (googleTokenInfo, error) {
	form := url.Values{"access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenInfoURL, strings.NewReader(form.Encode()))
	if err != nil {
		return googleTokenInfo{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return googleTokenInfo{}, fmt.Errorf("get token info: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return googleTokenInfo{}, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return googleTokenInfo{}, fmt.Errorf("get token info: unexpected status %d", resp.StatusCode)
	}
	var info googleTokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return googleTokenInfo{}, fmt.Errorf("decode token info: %w", err)
	}
	return info, nil
}

func (p *GoogleProvider) fetchUser(ctx context.Context, client *http.Client) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return User{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("get user info: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return User{}, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		return User{}, fmt.Errorf("get user info: unexpected status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return User{}, fmt.Errorf("decode user info: %w", err)
	}
	if info.Email == "" {
		return User{}, ErrMissingEmail
	}
	if !info.VerifiedEmail {
		return User{}, ErrEmailNotVerified
	}
	return User{
		Provider:      p.Name(),
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.VerifiedEmail,
		Name:          info.Name,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
	}, nil
}
