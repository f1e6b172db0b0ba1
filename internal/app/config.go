package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

const defaultAddr = "0.0.0.0:8080"

// Config is loaded from MARKET_* environment variables, flags and YAML files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MARKET_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to relative image paths" flag:"image-base-url"`
	Auth         AuthConfig
	Checkout     CheckoutConfig
	Redis        RedisConfig
	Events       EventsConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// AuthConfig verifies bearer tokens issued by the identity service.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET" usage:"HS256 secret shared with the identity service" flag:"jwt-secret"`
	Issuer    string `default:"" usage:"Required iss claim, empty to skip" flag:"jwt-issuer"`
}

// CheckoutConfig tunes checkout transactions.
type CheckoutConfig struct {
	LockTimeout time.Duration `default:"3s" usage:"Maximum wait for a row lock inside a transaction" flag:"lock-timeout"`
}

// RedisConfig enables the cart count cache.
type RedisConfig struct {
	URL      string        `default:"" usage:"redis:// URL, empty disables the cache (MARKET_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	CountTTL time.Duration `default:"30s" usage:"Cart count cache TTL" flag:"redis-count-ttl"`
}

// EventsConfig enables the Kafka outbox relay.
type EventsConfig struct {
	Brokers   []string      `default:"" usage:"Kafka brokers, empty disables the relay" flag:"kafka-brokers"`
	Topic     string        `default:"marketplace.order.placed" usage:"Topic for order.placed events" flag:"kafka-topic"`
	Interval  time.Duration `default:"1s" usage:"Outbox poll interval" flag:"outbox-interval"`
	BatchSize int           `default:"100" usage:"Outbox records per publish" flag:"outbox-batch"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Burst int     `default:"100" usage:"Requests allowed in a burst"`
	Rate  float64 `default:"10"  usage:"Sustained requests per second"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads and validates the configuration.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARKET",
		Files:     []string{"config.yaml", "/etc/market/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set MARKET_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required: set MARKET_AUTH_JWT_SECRET")
	}
	return nil
}

// applyPlatformDefaults honours the unprefixed variables set by hosting
// platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	brokers := c.Events.Brokers[:0]
	for _, b := range c.Events.Brokers {
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	c.Events.Brokers = brokers
}
