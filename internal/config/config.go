package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL             string        `env:"DATABASE_URL,required" validate:"required"`
	DatabaseMaxConns        int32         `env:"DATABASE_MAX_CONNS" envDefault:"10" validate:"min=1"`
	DatabaseMinConns        int32         `env:"DATABASE_MIN_CONNS" envDefault:"1" validate:"min=0"`
	DatabaseMaxConnLifetime time.Duration `env:"DATABASE_MAX_CONN_LIFETIME" envDefault:"30m"`
	AutoMigrate             bool          `env:"AUTO_MIGRATE" envDefault:"false"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY,required" validate:"required"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required" validate:"required"`
	PaymentCurrency     string `env:"PAYMENT_CURRENCY" envDefault:"usd" validate:"len=3,alpha"`

	PrintfulAPIKey        string `env:"PRINTFUL_API_KEY"`
	PrintfulStoreID       string `env:"PRINTFUL_STORE_ID"`
	PrintfulBaseURL       string `env:"PRINTFUL_BASE_URL" envDefault:"https://api.printful.com" validate:"required,url"`
	PrintfulWebhookSecret string `env:"PRINTFUL_WEBHOOK_SECRET,required" validate:"required"`

	FulfillmentSubmitTimeout    time.Duration `env:"FULFILLMENT_SUBMIT_TIMEOUT" envDefault:"15s"`
	FulfillmentRetryInterval    time.Duration `env:"FULFILLMENT_RETRY_INTERVAL" envDefault:"5m"`
	FulfillmentRetryMaxAttempts int           `env:"FULFILLMENT_RETRY_MAX_ATTEMPTS" envDefault:"10" validate:"min=1"`

	EasyPostWebhookSecret string `env:"EASYPOST_WEBHOOK_SECRET,required" validate:"required"`
	JWTSecret             string `env:"JWT_SECRET,required" validate:"required,min=32"`

	EmailProvider string `env:"EMAIL_PROVIDER" envDefault:"log" validate:"omitempty,oneof=resend log"`
	ResendAPIKey  string `env:"RESEND_API_KEY" validate:"required_if=EmailProvider resend"`
	EmailFrom     string `env:"EMAIL_FROM" envDefault:"orders@localhost"`
	ShopName      string `env:"SHOP_NAME" envDefault:"Print Shop"`

	CacheProvider         string        `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`
	CacheMemorySize       int           `env:"CACHE_MEMORY_SIZE" envDefault:"10000" validate:"min=1"`
	WebhookDedupeTTL      time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"24h"`

	SentryDSN         string  `env:"SENTRY_DSN"`
	SentryEnvironment string  `env:"SENTRY_ENVIRONMENT" envDefault:"development"`
	SentrySampleRate  float64 `env:"SENTRY_TRACES_SAMPLE_RATE" envDefault:"0.2" validate:"min=0,max=1"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// FulfillmentSubmissionEnabled reports whether provider submission is configured.
func (c *Config) FulfillmentSubmissionEnabled() bool {
	return strings.TrimSpace(c.PrintfulAPIKey) != ""
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	if c.DatabaseMinConns > c.DatabaseMaxConns {
		return fmt.Errorf("DATABASE_MIN_CONNS must not exceed DATABASE_MAX_CONNS")
	}
	if c.FulfillmentSubmitTimeout <= 0 {
		return fmt.Errorf("FULFILLMENT_SUBMIT_TIMEOUT must be positive")
	}
	if c.FulfillmentRetryInterval < 0 {
		return fmt.Errorf("FULFILLMENT_RETRY_INTERVAL must not be negative")
	}
	if c.WebhookDedupeTTL <= 0 {
		return fmt.Errorf("WEBHOOK_DEDUPE_TTL must be positive")
	}

	if c.SentryDSN != "" {
		parsed, err := url.Parse(c.SentryDSN)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("SENTRY_DSN must be a valid absolute URL")
		}
	}

	return nil
}
