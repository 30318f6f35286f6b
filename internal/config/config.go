// Package config defines the process configuration for the marina scheduling
// engine. Configuration is loaded once at startup and is immutable
// thereafter.
//
// Values are resolved in priority order:
//
//	OS Environment (Highest) -> Dotenv File -> SecretProvider (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"marinaops/internal/types"
)

// SecretString is an alias for types.SecretString so config structs read
// naturally.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"marinaops"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Weather       WeatherConfig
	Cache         CacheConfig
	Rules         RulesConfig
	Sync          SyncConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	Sweep         SweepConfig

	// Injected via ldflags, not the environment.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s" validate:"gt=0"`
	EnableGzip     bool          `envconfig:"ENABLE_GZIP" default:"true"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL             SecretString  `envconfig:"DATABASE_URL" validate:"required"`
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// WeatherConfig selects and tunes the weather provider.
type WeatherConfig struct {
	Provider string       `envconfig:"WEATHER_PROVIDER" default:"http" validate:"oneof=http postgres"`
	BaseURL  string       `envconfig:"WEATHER_BASE_URL" validate:"required_if=Provider http,omitempty,url"`
	APIKey   SecretString `envconfig:"WEATHER_API_KEY"`

	// Timeout bounds a single provider call inside Evaluate.
	Timeout        time.Duration `envconfig:"WEATHER_TIMEOUT" default:"3s" validate:"gt=0"`
	MaxConcurrency int           `envconfig:"WEATHER_MAX_CONCURRENCY" default:"8" validate:"min=1,max=256"`
	MaxRetries     int           `envconfig:"WEATHER_MAX_RETRIES" default:"2" validate:"min=0,max=5"`
}

// CacheConfig controls the observation cache.
type CacheConfig struct {
	Backend    string        `envconfig:"CACHE_BACKEND" default:"memory" validate:"oneof=memory redis none"`
	TTL        time.Duration `envconfig:"CACHE_TTL" default:"15m"`
	MissingTTL time.Duration `envconfig:"CACHE_MISSING_TTL" default:"5m"`
	MaxEntries int           `envconfig:"CACHE_MAX_ENTRIES" default:"10000" validate:"min=1"`

	RedisAddr     string       `envconfig:"REDIS_ADDR" validate:"required_if=Backend redis"`
	RedisPassword SecretString `envconfig:"REDIS_PASSWORD"`
	RedisDB       int          `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix     string       `envconfig:"CACHE_KEY_PREFIX" default:"marinaops:"`
}

// RulesConfig selects where the active rule set is loaded from.
type RulesConfig struct {
	Source string `envconfig:"RULES_SOURCE" default:"file" validate:"oneof=file postgres"`
	File   string `envconfig:"RULES_FILE" default:"rules.json" validate:"required_if=Source file"`
}

// SyncConfig selects the change-feed backend for live sync.
type SyncConfig struct {
	Backend string `envconfig:"SYNC_BACKEND" default:"none" validate:"oneof=kafka sqs none"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" validate:"required_if=Backend kafka"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"marinaops.interventions"`
	// KafkaGroupID is a prefix; each instance consumes in its own group.
	KafkaGroupID string `envconfig:"KAFKA_GROUP_ID" default:"marinaops-api"`

	// InstanceID names this instance's consumer group. Defaults to the
	// hostname.
	InstanceID string `envconfig:"SYNC_INSTANCE_ID"`

	// SQS hands each message to one consumer, so SQS live sync reaches a
	// single API instance. Other instances rely on the week cache TTL.
	SQSQueueURL string        `envconfig:"SQS_CHANGE_QUEUE_URL" validate:"required_if=Backend sqs,omitempty,url"`
	SQSWaitTime time.Duration `envconfig:"SQS_WAIT_TIME" default:"20s"`
}

// AWSConfig holds region and endpoint overrides.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"eu-west-3"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"` // LocalStack; empty in prod
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig selects the request metrics backend.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"MarinaOps"`
}

// SweepConfig drives the automated rescheduling sweep.
type SweepConfig struct {
	SiteIDs    []string `envconfig:"SWEEP_SITE_IDS"`
	WeeksAhead int      `envconfig:"SWEEP_WEEKS_AHEAD" default:"1" validate:"min=1,max=8"`
}

// BuildInfo holds build-time metadata.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv       ConfigErrorType = "MISSING_ENV"
	ErrSecretResolution ConfigErrorType = "SECRET_FAILURE"
	ErrValidation       ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing          ConfigErrorType = "PARSING_FAILED"
)
