package models

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"

	ProviderEmail  = "email"
	ProviderGoogle = "google"
)

type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string `json:"-"`
	Provider     string
	ProviderID   string `json:"-"` // 第三方登录的用户 ID，邮箱注册为空
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Customer 本地用户与 Stripe customer 的映射
type Customer struct {
	UserID           int64
	StripeCustomerID string
	CreatedAt        time.Time
}

type BillingAddress struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// BillingProfile 由 checkout.session.completed 写入，以 Stripe customer id 为主键
type BillingProfile struct {
	StripeCustomerID string
	UserID           *int64
	Name             string
	Email            string
	Address          BillingAddress
	UpdatedAt        time.Time
}
