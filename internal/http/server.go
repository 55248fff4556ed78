package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"babygpt/internal/analytics"
	"babygpt/internal/billing"
	"babygpt/internal/config"
	"babygpt/internal/email"
	"babygpt/internal/identity"
	"babygpt/internal/models"
	"babygpt/internal/plans"
	"babygpt/internal/sessionstore"
	"babygpt/internal/signup"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// UserStore 是 HTTP 层用到的账号操作，*services.Service 满足该接口
type UserStore interface {
	RegisterWithPassword(ctx context.Context, email, password string) (models.User, bool, error)
	GetOrCreateOAuthUser(ctx context.Context, provider, providerID, email, name string) (models.User, bool, error)
}

type Mailer interface {
	SendContactMessage(ctx context.Context, from string, msg email.ContactMessage) error
}

// Deps 由 main 显式构造后传入，不使用包级单例
type Deps struct {
	Config    config.Config
	Logger    zerolog.Logger
	Users     UserStore
	Catalog   *plans.Catalog
	Providers []identity.Provider
	Sessions  *identity.Sessions
	Store     sessionstore.Store
	Checkout  signup.CheckoutStarter
	Relay     *billing.Relay
	Recaptcha signup.BotVerifier
	Passwords signup.PasswordScorer
	Mailer    Mailer
	Tracker   analytics.Tracker
	Metrics   http.Handler
}

type Server struct {
	cfg       config.Config
	logger    zerolog.Logger
	users     UserStore
	catalog   *plans.Catalog
	providers map[string]identity.Provider
	sessions  *identity.Sessions
	states    *signup.StateStore
	bridge    *signup.Bridge
	wizard    *signup.Wizard
	checkout  signup.CheckoutStarter
	relay     *billing.Relay
	recaptcha signup.BotVerifier
	mailer    Mailer
	tracker   analytics.Tracker
	metrics   http.Handler
	pages     *pages
}

func NewServer(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		logger:    d.Logger,
		users:     d.Users,
		catalog:   d.Catalog,
		providers: map[string]identity.Provider{},
		sessions:  d.Sessions,
		checkout:  d.Checkout,
		relay:     d.Relay,
		recaptcha: d.Recaptcha,
		mailer:    d.Mailer,
		tracker:   d.Tracker,
		metrics:   d.Metrics,
		pages:     mustParsePages(),
	}
	if s.tracker == nil {
		s.tracker = analytics.Discard{}
	}
	for _, p := range d.Providers {
		if p != nil {
			s.providers[p.Name()] = p
		}
	}

	s.states = signup.NewStateStore(d.Store, d.Logger)
	s.bridge = signup.NewBridge(&tokenAccounts{provider: s.defaultProvider(), users: d.Users}, d.Logger)
	s.wizard = signup.NewWizard(signup.WizardDeps{
		States:           s.states,
		Bot:              d.Recaptcha,
		Passwords:        d.Passwords,
		PasswordMinScore: d.Config.PasswordMinScore,
		Accounts:         &passwordAccounts{users: d.Users},
		Checkout:         d.Checkout,
		Tracker:          s.tracker,
		Logger:           d.Logger,
	})
	return s
}

// loggingRecoverer 自定义的 panic 恢复中间件，记录详细的错误信息
func (s *Server) loggingRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				s.requestLog(r).Error().
					Interface("panic", rvr).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				if r.Header.Get("Connection") != "Upgrade" {
					respondError(w, http.StatusInternalServerError, errInternal)
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger 记录请求日志的中间件
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.requestLog(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) requestLog(r *http.Request) *zerolog.Logger {
	l := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
	return &l
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingRecoverer)
	r.Use(s.requestLogger)
	r.Use(s.authenticate)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	// 页面路由需要浏览器会话 id
	r.Group(func(r chi.Router) {
		r.Use(s.browserSession)

		r.Get("/", s.handleLanding)
		r.Get("/success", s.handleSuccess)
		r.Post("/signup/open", s.handleSignupOpen)
		r.Post("/signup/plan", s.handleSelectPlan)
		r.Post("/signup/close", s.handleSignupClose)
		r.Post("/signup/email", s.handleSignupEmail)
		r.Post("/signup/details", s.handleSignupDetails)

		r.Get("/auth/callback", s.handleOAuthCallback)
		r.Get("/auth/{provider}", s.handleOAuthStart)
		r.Post("/auth/token", s.handleTokenExchange)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.corsMiddleware)

		r.Get("/plans", s.handleListPlans)
		r.Post("/create-checkout-session", s.handleCreateCheckoutSession)
		r.Post("/verify-recaptcha", s.handleVerifyRecaptcha)
		r.Post("/webhooks/stripe", s.handleStripeWebhook)
		r.Post("/contact", s.handleContact)
	})

	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.SiteURL)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,Stripe-Signature")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type planResponse struct {
	Interval    plans.Interval `json:"interval"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Price       string         `json:"price"`
	Badge       string         `json:"badge,omitempty"`
	Savings     string         `json:"savings,omitempty"`
	Features    []string       `json:"features"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, _ *http.Request) {
	out := make([]planResponse, 0, 2)
	for _, p := range s.catalog.Plans() {
		out = append(out, planResponse{
			Interval:    p.Interval,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price.StringFixed(2),
			Badge:       p.Badge,
			Savings:     p.Savings,
			Features:    p.Features,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"plans": out})
}
