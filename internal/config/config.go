package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the PixelMint server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Billing  BillingConfig
	Jobs     JobsConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type ProviderConfig struct {
	Name      string
	Timeout   time.Duration
	Replicate ReplicateConfig
	Stability StabilityConfig
}

type ReplicateConfig struct {
	BaseURL  string
	APIToken string
}

type StabilityConfig struct {
	BaseURL string
	APIKey  string
}

type BillingConfig struct {
	// SignupCredits is granted as a bonus ledger entry when a tenant is
	// provisioned.
	SignupCredits int64
}

type JobsConfig struct {
	// StuckAfter is how long a processing job may go without a provider
	// callback before the reaper fails and refunds it.
	StuckAfter time.Duration
	// ReapInterval is how often the reaper scans for stuck jobs.
	ReapInterval time.Duration
}

var validProviders = map[string]bool{
	"replicate": true,
	"stability": true,
	"mock":      true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("PIXELMINT_PORT", 8080),
			Env:             envString("PIXELMINT_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Provider: ProviderConfig{
			Name:    os.Getenv("IMAGE_PROVIDER"),
			Timeout: envDuration("IMAGE_PROVIDER_TIMEOUT", 2*time.Minute),
			Replicate: ReplicateConfig{
				BaseURL:  envString("REPLICATE_BASE_URL", "https://api.replicate.com"),
				APIToken: os.Getenv("REPLICATE_API_TOKEN"),
			},
			Stability: StabilityConfig{
				BaseURL: envString("STABILITY_BASE_URL", "https://api.stability.ai"),
				APIKey:  os.Getenv("STABILITY_API_KEY"),
			},
		},
		Billing: BillingConfig{
			SignupCredits: envInt64("SIGNUP_CREDITS", 10),
		},
		Jobs: JobsConfig{
			StuckAfter:   envDuration("JOB_STUCK_AFTER", 10*time.Minute),
			ReapInterval: envDuration("JOB_REAP_INTERVAL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Provider.Name == "" {
		return fmt.Errorf("IMAGE_PROVIDER is required")
	}
	if !validProviders[c.Provider.Name] {
		return fmt.Errorf("IMAGE_PROVIDER must be one of replicate, stability, mock; got %q", c.Provider.Name)
	}

	if c.Provider.Name == "replicate" {
		if c.Provider.Replicate.APIToken == "" {
			return fmt.Errorf("REPLICATE_API_TOKEN is required when IMAGE_PROVIDER is replicate")
		}
		if !hasHTTPScheme(c.Provider.Replicate.BaseURL) {
			return fmt.Errorf("REPLICATE_BASE_URL must start with http:// or https://, got %q", c.Provider.Replicate.BaseURL)
		}
	}
	if c.Provider.Name == "stability" {
		if c.Provider.Stability.APIKey == "" {
			return fmt.Errorf("STABILITY_API_KEY is required when IMAGE_PROVIDER is stability")
		}
		if !hasHTTPScheme(c.Provider.Stability.BaseURL) {
			return fmt.Errorf("STABILITY_BASE_URL must start with http:// or https://, got %q", c.Provider.Stability.BaseURL)
		}
	}

	if c.Billing.SignupCredits < 0 {
		return fmt.Errorf("SIGNUP_CREDITS must be >= 0, got %d", c.Billing.SignupCredits)
	}

	if c.Server.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be positive, got %d", c.Server.RateLimitPerMin)
	}

	if c.Jobs.StuckAfter <= 0 {
		return fmt.Errorf("JOB_STUCK_AFTER must be positive")
	}

	return nil
}

func hasHTTPScheme(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
