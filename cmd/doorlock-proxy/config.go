package main

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/validation"
)

// Store drivers
const (
	driverRedis    = "redis"
	driverPostgres = "postgres"
	driverMemory   = "memory"
)

// Config holds server configuration loaded from environment variables
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	PublicURL   string `envconfig:"PUBLIC_URL" required:"true"`
	Environment string `envconfig:"ENVIRONMENT" default:"production"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"redis"`
	RedisURL    string `envconfig:"REDIS_URL"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	StateSecret   string `envconfig:"STATE_SECRET" required:"true"`
	AuthJWTSecret string `envconfig:"AUTH_JWT_SECRET" required:"true"`
	AuthIssuer    string `envconfig:"AUTH_ISSUER"`

	HubTimeout time.Duration `envconfig:"HUB_TIMEOUT" default:"15s"`

	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"45s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// loadConfig reads an optional .env file, then the environment
func loadConfig() (Config, error) {
	// a missing .env file is normal outside development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("processing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.PublicURL = doorlock.NormalizeBaseURL(cfg.PublicURL)
	return cfg, nil
}

func (c Config) validate() error {
	if err := validation.ValidateBaseURL(c.PublicURL); err != nil {
		return fmt.Errorf("PUBLIC_URL: %w", err)
	}

	switch c.StoreDriver {
	case driverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis store")
		}
	case driverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case driverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.HubTimeout <= 0 {
		return fmt.Errorf("HUB_TIMEOUT must be positive")
	}
	return nil
}

// redirectURI is where hubs send the authorization callback
func (c Config) redirectURI() string {
	return c.PublicURL + "/integration/callback"
}
