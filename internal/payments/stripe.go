// Package payments 封装 checkout 与 webhook 用到的 Stripe 调用
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

var (
	ErrNotConfigured = errors.New("stripe not configured")
	ErrProvider      = errors.New("payments provider error")
)

type CustomerParams struct {
	UserID int64
	Email  string
	Name   string
}

type SessionParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

type CheckoutSession struct {
	ID         string
	URL        string
	CustomerID string
}

type Gateway interface {
	CreateCustomer(ctx context.Context, p CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, p SessionParams) (CheckoutSession, error)
}

// StripeGateway 每个实例持有独立的 client.API，不使用全局 stripe.Key
type StripeGateway struct {
	api *client.API
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway 创建网关，backends 为 nil 时使用 Stripe 默认地址
func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	if secretKey == "" {
		return &StripeGateway{}
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	if g.api == nil {
		return "", ErrNotConfigured
	}
	params := &stripe.CustomerParams{
		Email: stripe.String(p.Email),
	}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatInt(p.UserID, 10))

	cus, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %w", ErrProvider, err)
	}
	return cus.ID, nil
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p SessionParams) (CheckoutSession, error) {
	if g.api == nil {
		return CheckoutSession{}, ErrNotConfigured
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(p.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:               stripe.String(p.SuccessURL),
		CancelURL:                stripe.String(p.CancelURL),
		PaymentMethodTypes:       stripe.StringSlice([]string{"card", "paypal"}),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		CustomerUpdate: &stripe.CheckoutSessionCustomerUpdateParams{
			Name:    stripe.String("auto"),
			Address: stripe.String("auto"),
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("%w: create checkout session: %w", ErrProvider, err)
	}
	out := CheckoutSession{ID: sess.ID, URL: sess.URL, CustomerID: p.CustomerID}
	if sess.Customer != nil && sess.Customer.ID != "" {
		out.CustomerID = sess.Customer.ID
	}
	return out, nil
}

// StripeErrorDetails 提取 Stripe 错误信息用于日志，不返回给用户
func StripeErrorDetails(err error) (errType, code, msg string, ok bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return "", "", "", false
	}
	return string(stripeErr.Type), string(stripeErr.Code), stripeErr.Msg, true
}
