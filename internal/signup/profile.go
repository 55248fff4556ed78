package signup

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"babygpt/internal/identity"
)

const (
	ProfileCookieName   = "user_profile"
	ProfileCookieMaxAge = 3600
)

// ProfileSnapshot 用于预填注册表单的最小用户信息
type ProfileSnapshot struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (p ProfileSnapshot) IsZero() bool {
	return p.Name == "" && p.Email == ""
}

func ProfileFromUser(u identity.User) ProfileSnapshot {
	return ProfileSnapshot{Name: u.DisplayName(), Email: u.Email}
}

// escapeComponent 与浏览器 encodeURIComponent 的编码一致，两端可互相解码 cookie
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func EncodeProfileCookie(p ProfileSnapshot) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return escapeComponent(string(raw)), nil
}

func DecodeProfileCookie(value string) (ProfileSnapshot, error) {
	raw, err := url.PathUnescape(value)
	if err != nil {
		return ProfileSnapshot{}, err
	}
	var p ProfileSnapshot
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return ProfileSnapshot{}, err
	}
	return p, nil
}

// NewProfileCookie 生成 user_profile cookie，页面脚本也需要读取，所以不设置 HttpOnly
func NewProfileCookie(p ProfileSnapshot, secure bool) (*http.Cookie, error) {
	value, err := EncodeProfileCookie(p)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     ProfileCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   ProfileCookieMaxAge,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}
