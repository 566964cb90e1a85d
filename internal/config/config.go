package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer       string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience     string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL      string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey   string        `mapstructure:"AUTH_SIGNING_KEY"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	PackBodyLimit    string        `mapstructure:"PACK_BODY_LIMIT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ApplyTimeout     time.Duration `mapstructure:"APPLY_TIMEOUT"`
	ReadinessTimeout time.Duration `mapstructure:"READINESS_TIMEOUT"`
	MetricsEnabled   bool          `mapstructure:"METRICS_ENABLED"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MIGRATIONS_DIR", "CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"AUTH_SIGNING_KEY", "BODY_LIMIT", "PACK_BODY_LIMIT", "REQUEST_TIMEOUT",
	"APPLY_TIMEOUT", "READINESS_TIMEOUT", "METRICS_ENABLED", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
}

// Load reads the environment and an optional .env file. DATABASE_URL is
// required.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("PACK_BODY_LIMIT", "8M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("APPLY_TIMEOUT", "60s")
	v.SetDefault("READINESS_TIMEOUT", "10s")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Unmarshal only sees env vars that are bound.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Level parses LOG_LEVEL, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is safe to serve with. Outside
// development a token verification source is mandatory.
func (c *Config) Validate() error {
	if c.ApplyTimeout <= 0 {
		return fmt.Errorf("APPLY_TIMEOUT must be positive, got %s", c.ApplyTimeout)
	}
	if c.ReadinessTimeout <= 0 {
		return fmt.Errorf("READINESS_TIMEOUT must be positive, got %s", c.ReadinessTimeout)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative, got %g", c.RateLimitRPS)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1, got %d", c.RateLimitBurst)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.IsDev() {
		return nil
	}
	if c.AuthSigningKey == "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return errors.New("AUTH_SIGNING_KEY or AUTH_ISSUER/AUTH_JWKS_URL must be set outside development " +
			"(current ENV=" + c.Env + ")")
	}
	return nil
}
