// Package config defines the global configuration structure for the LearnHub platform.
// Configuration is loaded once at process initialization and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup.
package config

import (
	"time"

	"learnhub/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the LearnHub platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"learnhub-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// IsTestMode swaps the real vendor adapters (Vapi, Clerk) for logging
	// stubs. This is an explicit opt-in; production environments must leave
	// it false.
	IsTestMode bool `envconfig:"IS_TEST_MODE" default:"false"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Clerk    ClerkConfig
	Vapi     VapiConfig
	Security SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for redirects and links (no trailing slash)
	APIExternalURL string `envconfig:"API_EXTERNAL_URL" validate:"required,url"` // e.g., https://api.learnhub.io
	WebAppURL      string `envconfig:"WEB_APP_URL" validate:"required,url"`      // e.g., https://app.learnhub.io
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`     // Fail fast when pool exhausted
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"` // Detect dead connections during failover
}

// ClerkConfig holds identity and billing provider credentials.
type ClerkConfig struct {
	SecretKey      SecretString `envconfig:"CLERK_SECRET_KEY" validate:"required"`
	PublishableKey string       `envconfig:"CLERK_PUBLISHABLE_KEY"`

	// WebhookSecret signs inbound billing webhooks. It is deliberately not
	// required at boot: with no secret configured the webhook endpoint
	// answers 501 instead of silently accepting unverified payloads.
	WebhookSecret SecretString `envconfig:"CLERK_WEBHOOK_SECRET"`
}

// VapiConfig holds voice pipeline provider credentials.
type VapiConfig struct {
	SecretKey SecretString `envconfig:"VAPI_SECRET_KEY" validate:"required"`
	// BaseURL overrides the provider API endpoint, primarily for integration
	// testing against a local fake.
	BaseURL string `envconfig:"VAPI_BASE_URL"`
}

// SecurityConfig holds CORS and related HTTP security settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSecretResolution indicates a failure when resolving secret references
	// via the SecretProvider.
	ErrSecretResolution ConfigErrorType = "SECRET_RESOLUTION_FAILED"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
