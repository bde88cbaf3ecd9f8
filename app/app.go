package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/printshopapp/printshop/internal/auth"
	"github.com/printshopapp/printshop/internal/cache"
	"github.com/printshopapp/printshop/internal/config"
	"github.com/printshopapp/printshop/internal/db"
	"github.com/printshopapp/printshop/internal/email"
	"github.com/printshopapp/printshop/internal/handlers"
	"github.com/printshopapp/printshop/internal/logging"
	"github.com/printshopapp/printshop/internal/observability"
	"github.com/printshopapp/printshop/internal/printful"
	"github.com/printshopapp/printshop/internal/services"
	"github.com/printshopapp/printshop/internal/stripe"
)

const (
	notificationTimeout = 30 * time.Second
	sentryFlushTimeout  = 2 * time.Second
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Verifier      *auth.Verifier
	Handlers      *handlers.Handlers

	notifier      *services.AsyncNotifier
	retrier       *services.FulfillmentRetrier
	stopRetrier   context.CancelFunc
	retrierDone   sync.WaitGroup
	sentryEnabled bool
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	sentryEnabled, err := initSentry(cfg)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, sentryEnabled)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DatabaseMaxConns,
		MinConns:        cfg.DatabaseMinConns,
		MaxConnLifetime: cfg.DatabaseMaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := db.Migrate(startupCtx, database, "up"); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
		MemorySize:            cfg.CacheMemorySize,
		TTL:                   cfg.WebhookDedupeTTL,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.EmailFrom,
	}, logger.With("component", "email"))
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize email renderer: %w", err)
	}
	emailNotifier, err := services.NewEmailNotifier(emailProvider, renderer, cfg.ShopName)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}
	notifier := services.NewAsyncNotifier(emailNotifier, notificationTimeout, logger.With("component", "notifier"))

	ledger := db.NewLedger(database)
	gateway := stripe.NewPaymentClient(cfg.StripeSecretKey, cfg.PaymentCurrency)

	var provider services.FulfillmentProvider
	if cfg.FulfillmentSubmissionEnabled() {
		provider = printful.NewClient(
			observability.NewHTTPClient(observability.ClientConfig{
				Timeout:            cfg.FulfillmentSubmitTimeout,
				PropagationTargets: []string{hostOf(cfg.PrintfulBaseURL)},
			}),
			cfg.PrintfulAPIKey,
			printful.WithBaseURL(cfg.PrintfulBaseURL),
			printful.WithStoreID(cfg.PrintfulStoreID),
		)
	} else {
		logger.Warn("PRINTFUL_API_KEY is not set; orders are flagged for fulfillment submission but not sent")
	}
	submitter := services.NewFulfillmentSubmitter(ledger, provider, cfg.FulfillmentSubmitTimeout, logger.With("component", "fulfillment_submitter"))

	orderService := services.NewOrderService(ledger, gateway, submitter, logger.With("component", "order_service"))
	webhookService := services.NewWebhookService(ledger, notifier, logger.With("component", "webhook_service"))
	adminService := services.NewAdminService(ledger, notifier, logger.With("component", "admin_service"))
	retrier := services.NewFulfillmentRetrier(
		ledger,
		submitter,
		cfg.FulfillmentRetryInterval,
		cfg.FulfillmentRetryMaxAttempts,
		logger.With("component", "fulfillment_retrier"),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:   cfg,
		DB:       ledger,
		Deduper:  cache.NewDeduper(cacheProvider),
		Orders:   orderService,
		Webhooks: webhookService,
		Admin:    adminService,
		Logger:   logger,
	})
	if err != nil {
		notifier.Close()
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		Verifier:      verifier,
		Handlers:      h,
		notifier:      notifier,
		retrier:       retrier,
		sentryEnabled: sentryEnabled,
	}, nil
}

// StartBackground launches the fulfillment retry loop. Close stops it.
func (a *App) StartBackground() {
	if a == nil || a.retrier == nil || a.stopRetrier != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopRetrier = cancel
	a.retrierDone.Add(1)
	go func() {
		defer a.retrierDone.Done()
		a.retrier.Run(ctx)
	}()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.stopRetrier != nil {
		a.stopRetrier()
		a.retrierDone.Wait()
	}
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.sentryEnabled {
		sentry.Flush(sentryFlushTimeout)
	}
}

func initSentry(cfg *config.Config) (bool, error) {
	if strings.TrimSpace(cfg.SentryDSN) == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.SentryEnvironment,
		EnableTracing:    true,
		TracesSampleRate: cfg.SentrySampleRate,
		EnableLogs:       true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return true, nil
}

func newLogger(cfg *config.Config, sentryEnabled bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel})
	}

	if !sentryEnabled {
		return slog.New(handler)
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelInfo},
	}.NewSentryHandler(context.Background())
	return slog.New(logging.Tee(handler, sentryHandler))
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
