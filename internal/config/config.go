// Package config defines the global configuration for the Sapar billing
// service. Configuration is loaded once at process start and is immutable
// thereafter, following 12-Factor principles: code and configuration stay
// strictly separated, and any missing required value fails startup
// immediately.
package config

import (
	"time"

	"sapar/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"sapar-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server   ServerConfig
	Database DatabaseConfig
	AWS      AWSConfig
	Billing  BillingConfig
	Auth     AuthConfig
	Security SecurityConfig
	Feature  FeatureConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-central-1"`

	// LedgerEventsQueue receives post-commit ledger notifications for
	// downstream consumers (receipt mailer, analytics).
	LedgerEventsQueue string `envconfig:"SQS_LEDGER_EVENTS" validate:"required,url"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds payment provider integration settings.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
}

// AuthConfig holds the shared secret used to verify bearer tokens issued by
// the identity service.
type AuthConfig struct {
	TokenSigningSecret SecretString `envconfig:"TOKEN_SIGNING_SECRET" validate:"required,min=32"`
}

// SecurityConfig holds admin access and CORS settings. AdminKeyHash is the
// bcrypt hash of the operator key; the plaintext never enters the process
// environment.
type SecurityConfig struct {
	AdminKeyHash       SecretString `envconfig:"ADMIN_KEY_HASH" validate:"required"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// FeatureConfig holds emergency kill switches.
type FeatureConfig struct {
	// EnablePromoGrants gates the admin credit-grant endpoint.
	EnablePromoGrants bool `envconfig:"FEATURE_ENABLE_PROMO_GRANTS" default:"true"`
}
