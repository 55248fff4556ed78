// Package checkout 解析价格、确保用户有 Stripe customer，并创建托管的 checkout session
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"babygpt/internal/payments"
	"babygpt/internal/plans"
	"babygpt/internal/services"

	"github.com/rs/zerolog"
)

var (
	ErrUnauthenticated = errors.New("Not authenticated")
	ErrInvalidRequest  = errors.New("invalid checkout request")
	ErrNotConfigured   = errors.New("checkout is not configured")
	ErrProvider        = errors.New("checkout failed, please try again")
)

type CustomerStore interface {
	GetStripeCustomerID(ctx context.Context, userID int64) (string, error)
	SaveStripeCustomer(ctx context.Context, userID int64, customerID string) (string, error)
}

type Request struct {
	PlanInterval  plans.Interval `json:"planInterval"`
	CustomerName  string         `json:"customerName"`
	CustomerEmail string         `json:"customerEmail"`
}

type Session struct {
	ID         string `json:"sessionId"`
	CustomerID string `json:"customerId"`
	URL        string `json:"url,omitempty"`
}

type Service struct {
	catalog   *plans.Catalog
	customers CustomerStore
	gateway   payments.Gateway
	siteURL   string
	logger    zerolog.Logger
}

func NewService(catalog *plans.Catalog, customers CustomerStore, gateway payments.Gateway, siteURL string, logger zerolog.Logger) *Service {
	return &Service{
		catalog:   catalog,
		customers: customers,
		gateway:   gateway,
		siteURL:   strings.TrimRight(siteURL, "/"),
		logger:    logger,
	}
}

func (s *Service) SuccessURL() string {
	return s.siteURL + "/success?session_id={CHECKOUT_SESSION_ID}"
}

func (s *Service) CancelURL() string {
	return s.siteURL + "/?step=details"
}

// Start 为已登录用户创建订阅 checkout session
// userID 为 0 时在任何外部调用之前拒绝
func (s *Service) Start(ctx context.Context, userID int64, req Request) (Session, error) {
	if userID == 0 {
		return Session{}, ErrUnauthenticated
	}
	if !req.PlanInterval.Valid() {
		return Session{}, fmt.Errorf("%w: unknown plan interval %q", ErrInvalidRequest, req.PlanInterval)
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		return Session{}, fmt.Errorf("%w: customer email is required", ErrInvalidRequest)
	}

	priceID, err := s.catalog.PriceID(req.PlanInterval)
	if err != nil {
		s.logger.Error().Err(err).Str("plan", string(req.PlanInterval)).Msg("price id missing")
		return Session{}, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	customerID, err := s.ensureCustomer(ctx, userID, email, strings.TrimSpace(req.CustomerName))
	if err != nil {
		return Session{}, err
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, payments.SessionParams{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: s.SuccessURL(),
		CancelURL:  s.CancelURL(),
		Metadata: map[string]string{
			"user_id":       strconv.FormatInt(userID, 10),
			"plan_interval": string(req.PlanInterval),
		},
	})
	if err != nil {
		return Session{}, s.providerError(err, "create_checkout_session")
	}
	s.logger.Info().Int64("user_id", userID).Str("session_id", sess.ID).Str("plan", string(req.PlanInterval)).Msg("checkout session created")
	return Session{ID: sess.ID, CustomerID: sess.CustomerID, URL: sess.URL}, nil
}

func (s *Service) ensureCustomer(ctx context.Context, userID int64, email, name string) (string, error) {
	customerID, err := s.customers.GetStripeCustomerID(ctx, userID)
	if err == nil {
		return customerID, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return "", fmt.Errorf("lookup customer: %w", err)
	}

	created, err := s.gateway.CreateCustomer(ctx, payments.CustomerParams{UserID: userID, Email: email, Name: name})
	if err != nil {
		return "", s.providerError(err, "create_customer")
	}
	stored, err := s.customers.SaveStripeCustomer(ctx, userID, created)
	if err != nil {
		return "", fmt.Errorf("save customer mapping: %w", err)
	}
	if stored != created {
		s.logger.Warn().Int64("user_id", userID).Str("created", created).Str("stored", stored).Msg("concurrent customer creation, using stored customer")
	}
	return stored, nil
}

func (s *Service) providerError(err error, op string) error {
	if errors.Is(err, payments.ErrNotConfigured) {
		return fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}
	ev := s.logger.Error().Err(err).Str("op", op)
	if typ, code, msg, ok := payments.StripeErrorDetails(err); ok {
		ev = ev.Str("stripe_type", typ).Str("stripe_code", code).Str("stripe_message", msg)
	}
	ev.Msg("stripe call failed")
	return fmt.Errorf("%w: %v", ErrProvider, err)
}
