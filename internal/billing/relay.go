// Package billing 把校验通过的 Stripe webhook 事件写入账单资料
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"babygpt/internal/models"
	"babygpt/internal/payments"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
)

const EventCheckoutSessionCompleted = "checkout.session.completed"

var (
	ErrMalformedEvent = errors.New("malformed webhook event")
	ErrStoreFailed    = errors.New("billing profile update failed")
)

type Store interface {
	UpsertBillingProfile(ctx context.Context, profile models.BillingProfile) error
}

type Result struct {
	EventID   string
	EventType string
	Handled   bool
}

type Relay struct {
	verifier payments.WebhookVerifier
	store    Store
	logger   zerolog.Logger
	now      func() time.Time
}

func NewRelay(verifier payments.WebhookVerifier, store Store, logger zerolog.Logger) *Relay {
	return &Relay{verifier: verifier, store: store, logger: logger, now: time.Now}
}

// Handle 先校验签名，校验失败的事件不会写入任何数据
func (r *Relay) Handle(ctx context.Context, payload []byte, sigHeader string) (Result, error) {
	event, err := r.verifier.ConstructEvent(payload, sigHeader)
	if err != nil {
		return Result{}, err
	}
	res := Result{EventID: event.ID, EventType: string(event.Type)}

	switch event.Type {
	case EventCheckoutSessionCompleted:
		if event.Data == nil {
			return res, ErrMalformedEvent
		}
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return res, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		handled, err := r.checkoutCompleted(ctx, &sess)
		if err != nil {
			return res, err
		}
		res.Handled = handled
	default:
		r.logger.Debug().Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("ignoring webhook event")
	}
	return res, nil
}

func (r *Relay) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) (bool, error) {
	if sess.Customer == nil || sess.Customer.ID == "" {
		r.logger.Warn().Str("session_id", sess.ID).Msg("checkout session without customer, skipping")
		return false, nil
	}

	profile := models.BillingProfile{
		StripeCustomerID: sess.Customer.ID,
		UpdatedAt:        r.now().UTC(),
	}
	if d := sess.CustomerDetails; d != nil {
		profile.Name = d.Name
		profile.Email = d.Email
		if a := d.Address; a != nil {
			profile.Address = models.BillingAddress{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			}
		}
	}

	if err := r.store.UpsertBillingProfile(ctx, profile); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	r.logger.Info().Str("session_id", sess.ID).Str("customer_id", profile.StripeCustomerID).Msg("billing profile updated")
	return true, nil
}
