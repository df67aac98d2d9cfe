package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string        `mapstructure:"REDIS_URL"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`

	ClinicTimezone       string        `mapstructure:"CLINIC_TIMEZONE"`
	AvailabilityCacheTTL time.Duration `mapstructure:"AVAILABILITY_CACHE_TTL"`
	AvailabilityStaleTTL time.Duration `mapstructure:"AVAILABILITY_STALE_TTL"`
	FanOutConcurrency    int           `mapstructure:"FANOUT_CONCURRENCY"`
	MaxRangeDays         int           `mapstructure:"MAX_RANGE_DAYS"`
	DefaultFee           string        `mapstructure:"DEFAULT_CONSULTATION_FEE"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"CLINIC_TIMEZONE", "AVAILABILITY_CACHE_TTL", "AVAILABILITY_STALE_TTL", "FANOUT_CONCURRENCY",
	"MAX_RANGE_DAYS", "DEFAULT_CONSULTATION_FEE",
}

// Load reads the environment and an optional .env file in the working
// directory. It does not validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "256K")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("AVAILABILITY_CACHE_TTL", "60s")
	v.SetDefault("AVAILABILITY_STALE_TTL", "24h")
	v.SetDefault("FANOUT_CONCURRENCY", 8)
	v.SetDefault("MAX_RANGE_DAYS", 92)
	v.SetDefault("DEFAULT_CONSULTATION_FEE", "0")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location is the clinic time zone slots are placed in.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.ClinicTimezone)
}

// ConsultationFee is the fee for doctors without a profile entry.
func (c *Config) ConsultationFee() (decimal.Decimal, error) {
	return decimal.NewFromString(c.DefaultFee)
}

// Validate checks that the configuration is safe to run. Outside
// development a signing key is required so that bearer tokens are checked.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_DRIVER %q loses every booking on restart and is not allowed in production", DriverMemory)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver)
	}

	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (ENV=%q)", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes for HS256")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	fee, err := c.ConsultationFee()
	if err != nil {
		return fmt.Errorf("DEFAULT_CONSULTATION_FEE: %w", err)
	}
	if fee.IsNegative() {
		return fmt.Errorf("DEFAULT_CONSULTATION_FEE must not be negative")
	}

	if c.FanOutConcurrency <= 0 {
		return fmt.Errorf("FANOUT_CONCURRENCY must be positive, got %d", c.FanOutConcurrency)
	}
	if c.MaxRangeDays <= 0 {
		return fmt.Errorf("MAX_RANGE_DAYS must be positive, got %d", c.MaxRangeDays)
	}
	if c.AvailabilityCacheTTL <= 0 || c.AvailabilityStaleTTL < c.AvailabilityCacheTTL {
		return fmt.Errorf("AVAILABILITY_STALE_TTL (%s) must be at least AVAILABILITY_CACHE_TTL (%s), which must be positive",
			c.AvailabilityStaleTTL, c.AvailabilityCacheTTL)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
