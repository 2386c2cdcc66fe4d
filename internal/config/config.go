package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	UpstreamBaseURL string        `mapstructure:"UPSTREAM_BASE_URL"`
	UpstreamTimeout time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`
	CodeStorePath   string        `mapstructure:"CODE_STORE_PATH"`
	SessionTTL      time.Duration `mapstructure:"SESSION_TTL"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	ExcelBodyLimit  string        `mapstructure:"EXCEL_BODY_LIMIT"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("CODE_STORE_PATH", "./data/collapse-gateway.db")
	v.SetDefault("SESSION_TTL", "2h")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("EXCEL_BODY_LIMIT", "20M")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("UPSTREAM_BASE_URL")
	v.BindEnv("UPSTREAM_TIMEOUT")
	v.BindEnv("CODE_STORE_PATH")
	v.BindEnv("SESSION_TTL")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("EXCEL_BODY_LIMIT")
	v.BindEnv("CORS_ORIGINS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. The gateway is
// useless without a reachable upstream service, so UPSTREAM_BASE_URL is
// required and must be an absolute http(s) URL.
func (c *Config) Validate() error {
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	u, err := url.Parse(c.UpstreamBaseURL)
	if err != nil {
		return fmt.Errorf("UPSTREAM_BASE_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("UPSTREAM_BASE_URL must be an http or https URL, got %q", c.UpstreamBaseURL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.CodeStorePath == "" {
		return fmt.Errorf("CODE_STORE_PATH is required")
	}
	return nil
}
