package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/utafrali/storefront-cart/internal/domain"
	pkgconfig "github.com/utafrali/storefront-cart/pkg/config"
	"github.com/utafrali/storefront-cart/pkg/database"
)

// Persistence backends selectable with CART_STORE_BACKEND.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var backends = []string{BackendRedis, BackendPostgres, BackendMemory}

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort            int `env:"CART_HTTP_PORT" envDefault:"8003"`
	RequestTimeoutSecs  int `env:"CART_REQUEST_TIMEOUT_SECONDS" envDefault:"15"`
	ShutdownTimeoutSecs int `env:"CART_SHUTDOWN_TIMEOUT_SECONDS" envDefault:"15"`

	// Persistence
	StoreBackend string `env:"CART_STORE_BACKEND" envDefault:"redis"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Cart TTL in hours (default: 30 days). 0 keeps carts forever.
	CartTTL int `env:"CART_TTL_HOURS" envDefault:"720"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:""`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"storefront"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Kafka
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	EventsEnabled bool     `env:"CART_EVENTS_ENABLED" envDefault:"true"`

	// Product catalog
	ProductServiceURL string `env:"PRODUCT_SERVICE_URL" envDefault:"http://localhost:8001"`

	// Circuit breaker settings for catalog calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Checkout
	PaymentMethods []string `env:"PAYMENT_METHODS" envDefault:"PayPal,CashOnDelivery" envSeparator:","`

	// Per-client rate limit on cart routes. 0 disables it.
	RateLimitRPS   float64 `env:"CART_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"CART_RATE_LIMIT_BURST" envDefault:"40"`

	// Open carts held in memory. Past the bound the least recently used cart
	// is flushed and dropped; an idle cart is dropped after the timeout and
	// re-read from the backend on next use. 0 disables either.
	MaxOpenStores    int `env:"CART_MAX_OPEN_STORES" envDefault:"10000"`
	StoreIdleMinutes int `env:"CART_STORE_IDLE_MINUTES" envDefault:"30"`

	// Profiler allowlist. Empty leaves /debug/pprof unmounted.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !slices.Contains(backends, c.StoreBackend) {
		return fmt.Errorf("CART_STORE_BACKEND must be one of %s, got %q", strings.Join(backends, ", "), c.StoreBackend)
	}
	if c.CartTTL < 0 {
		return fmt.Errorf("CART_TTL_HOURS must not be negative, got %d", c.CartTTL)
	}
	if c.StoreBackend == BackendPostgres && c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.EventsEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when CART_EVENTS_ENABLED is set")
	}
	if c.PaymentMethodSet().Len() == 0 {
		return fmt.Errorf("PAYMENT_METHODS must list at least one method")
	}
	if c.ProductServiceURL == "" {
		return fmt.Errorf("PRODUCT_SERVICE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.ProductServiceURL); err != nil {
		return fmt.Errorf("invalid PRODUCT_SERVICE_URL %q: %w", c.ProductServiceURL, err)
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.CBFailureRatio)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("CART_RATE_LIMIT_RPS and CART_RATE_LIMIT_BURST must not be negative")
	}
	if c.MaxOpenStores < 0 || c.StoreIdleMinutes < 0 {
		return fmt.Errorf("CART_MAX_OPEN_STORES and CART_STORE_IDLE_MINUTES must not be negative")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// PaymentMethodSet returns the configured allowed payment methods.
func (c *Config) PaymentMethodSet() domain.PaymentMethodSet {
	return domain.NewPaymentMethodSet(c.PaymentMethods...)
}

// CartTTLDuration returns CART_TTL_HOURS as a duration.
func (c *Config) CartTTLDuration() time.Duration {
	return time.Duration(c.CartTTL) * time.Hour
}

// StoreIdleTimeout returns CART_STORE_IDLE_MINUTES as a duration.
func (c *Config) StoreIdleTimeout() time.Duration {
	return time.Duration(c.StoreIdleMinutes) * time.Minute
}

// Postgres returns the connection settings for the postgres backend.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPass
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSL
	return pg
}

// Redis returns the connection settings for the redis backend.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Addr = c.RedisAddr
	rc.Password = c.RedisPass
	rc.DB = c.RedisDB
	return rc
}
