// Package config provides application configuration loaded from the
// environment (and an optional .env file in development).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	App          AppConfig
	Log          LogConfig
	RateLimit    RateLimitConfig
	Integrations IntegrationsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `env:"PORT,default=8080" validate:"required,numeric"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT,default=15s" validate:"gt=0"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT,default=15s" validate:"gt=0"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT,default=60s" validate:"gt=0"`
	PublicURL    string        `env:"PUBLIC_URL,default=http://localhost:8080" validate:"required,url"`
}

// DatabaseConfig holds PostgreSQL connection settings. URL, when set,
// wins over the discrete fields.
type DatabaseConfig struct {
	URLOverride string `env:"DATABASE_URL"`
	Host        string `env:"DB_HOST,default=localhost" validate:"required"`
	Port        int    `env:"DB_PORT,default=5432" validate:"gt=0,lt=65536"`
	User        string `env:"DB_USER,default=envie2sortir" validate:"required"`
	Password    string `env:"DB_PASSWORD,default=envie2sortir"`
	Name        string `env:"DB_NAME,default=envie2sortir" validate:"required"`
	SSLMode     string `env:"DB_SSLMODE,default=disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev                    bool   `env:"DEV,default=true"`
	Migrations             bool   `env:"MIGRATIONS,default=false"`
	Seed                   bool   `env:"SEED,default=true"`
	Launched               bool   `env:"LAUNCHED,default=false"`
	SessionSecret          string `env:"SESSION_SECRET,default=devsessionsecret" validate:"required,min=8"`
	AnalyticsRetentionDays int    `env:"ANALYTICS_RETENTION_DAYS,default=365" validate:"gte=30"`
	CORSOrigin             string `env:"CORS_ORIGIN"`
}

type LogConfig struct {
	Level      string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn warning error"`
	Format     string `env:"LOG_FORMAT" validate:"omitempty,oneof=text json"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB,default=50" validate:"gt=0"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS,default=5" validate:"gte=0"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS,default=28" validate:"gte=0"`
}

type RateLimitConfig struct {
	RPS   float64 `env:"RATE_LIMIT_RPS,default=5" validate:"gt=0"`
	Burst int     `env:"RATE_LIMIT_BURST,default=20" validate:"gt=0"`
	// TrustedProxies lists the IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `env:"TRUSTED_PROXIES" validate:"dive,cidr|ip"`
}

// IntegrationsConfig: an empty key disables the matching integration.
type IntegrationsConfig struct {
	GooglePlacesKey     string   `env:"GOOGLE_PLACES_API_KEY"`
	GooglePlacesBaseURL string   `env:"GOOGLE_PLACES_BASE_URL,default=https://maps.googleapis.com/maps/api/place"`
	SireneToken         string   `env:"INSEE_SIRENE_TOKEN"`
	SireneBaseURL       string   `env:"INSEE_SIRENE_BASE_URL,default=https://api.insee.fr/entreprises/sirene/V3.11"`
	CloudflareToken     string   `env:"CLOUDFLARE_API_TOKEN"`
	CloudflareZoneID    string   `env:"CLOUDFLARE_ZONE_ID"`
	CloudflareURL       string   `env:"CLOUDFLARE_GRAPHQL_URL,default=https://api.cloudflare.com/client/v4/graphql"`
	KafkaBrokers        []string `env:"KAFKA_BROKERS"`
	KafkaTopicPrefix    string   `env:"KAFKA_TOPIC_PREFIX,default=envie2sortir"`
}

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	if d.URLOverride != "" {
		return d.URLOverride
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format, as
// golang-migrate expects it.
func (d DatabaseConfig) URL() string {
	if d.URLOverride != "" {
		return d.URLOverride
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// LogFormat resolves the effective formatter: explicit value, else text in dev.
func (c *Config) LogFormat() string {
	if c.Log.Format != "" {
		return c.Log.Format
	}
	if c.App.Dev {
		return "text"
	}
	return "json"
}

func (i IntegrationsConfig) PlacesEnabled() bool     { return i.GooglePlacesKey != "" }
func (i IntegrationsConfig) SireneEnabled() bool     { return i.SireneToken != "" }
func (i IntegrationsConfig) CloudflareEnabled() bool { return i.CloudflareToken != "" && i.CloudflareZoneID != "" }
func (i IntegrationsConfig) KafkaEnabled() bool      { return len(i.KafkaBrokers) > 0 }

// Load reads .env (if present), decodes the environment and validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes and validates the current environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	if !cfg.App.Dev && cfg.App.SessionSecret == "devsessionsecret" {
		return nil, errors.New("config: SESSION_SECRET must be set outside development")
	}
	return &cfg, nil
}
