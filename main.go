package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"babygpt/internal/analytics"
	"babygpt/internal/billing"
	"babygpt/internal/checkout"
	"babygpt/internal/config"
	"babygpt/internal/db"
	"babygpt/internal/email"
	httpapi "babygpt/internal/http"
	"babygpt/internal/identity"
	"babygpt/internal/logging"
	"babygpt/internal/payments"
	"babygpt/internal/plans"
	"babygpt/internal/recaptcha"
	"babygpt/internal/services"
	"babygpt/internal/sessionstore"
	"babygpt/internal/signup"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	envErr := loadDotEnv()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		logger.Warn().Err(envErr).Msg("load .env failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connect failed")
	}
	defer pool.Close()
	if err := db.Migrate(pool, logger); err != nil {
		logger.Fatal().Err(err).Msg("db migrate failed")
	}

	store, closeStore := openSessionStore(ctx, cfg, logger)
	defer closeStore()

	env := plans.EnvTest
	if cfg.IsProduction() {
		env = plans.EnvProduction
	}
	catalog, err := plans.Load(env, plans.PriceIDs{
		MonthlyTest:  cfg.StripePriceMonthlyTest,
		MonthlyProd:  cfg.StripePriceMonthlyProd,
		AnnuallyTest: cfg.StripePriceAnnuallyTest,
		AnnuallyProd: cfg.StripePriceAnnuallyProd,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("load plan catalog failed")
	}
	for _, p := range catalog.Plans() {
		if _, err := catalog.PriceID(p.Interval); err != nil {
			logger.Warn().Err(err).Msg("checkout for this plan will fail until the price is configured")
		}
	}

	svc := services.New(pool)

	var providers []identity.Provider
	if google := identity.NewGoogleProvider(cfg.GoogleOAuth); google != nil {
		providers = append(providers, google)
	} else {
		logger.Warn().Msg("Google OAuth not configured")
	}

	metrics := analytics.New()
	gateway := payments.NewStripeGateway(cfg.StripeSecretKey(), nil)

	server := httpapi.NewServer(httpapi.Deps{
		Config:    cfg,
		Logger:    logger,
		Users:     svc,
		Catalog:   catalog,
		Providers: providers,
		Sessions:  identity.NewSessions(cfg.JWTSecretKey, cfg.JWTExpiry()),
		Store:     store,
		Checkout:  checkout.NewService(catalog, svc, gateway, cfg.SiteURL, logger),
		Relay:     billing.NewRelay(payments.NewStripeWebhookVerifier(cfg.StripeWebhookSecret), svc, logger),
		Recaptcha: recaptcha.NewClient(cfg.RecaptchaSecretKey, cfg.RecaptchaMinScore),
		Passwords: signup.ZxcvbnScorer{},
		Mailer:    email.NewResendClient(cfg.ResendAPIKey),
		Tracker:   metrics,
		Metrics:   metrics.Handler(),
	})
	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("env", string(env)).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load()
}

// openSessionStore 配置了 REDIS_ADDR 时使用 Redis，否则退回进程内存储
func openSessionStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (sessionstore.Store, func()) {
	if cfg.RedisAddr == "" {
		logger.Warn().Msg("REDIS_ADDR not set, using in-memory session store")
		return sessionstore.NewMemoryStore(cfg.SessionStoreTTL()), func() {}
	}
	client, err := sessionstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect failed")
	}
	return sessionstore.NewRedisStore(client, cfg.SessionStoreTTL()), func() { _ = client.Close() }
}
