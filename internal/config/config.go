package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	ServiceVersion  string        `mapstructure:"SERVICE_VERSION"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	StoreDriver     string `mapstructure:"STORE_DRIVER"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	SimulateLatency bool   `mapstructure:"SIMULATE_LATENCY"`
	SeedDemoData    bool   `mapstructure:"SEED_DEMO_DATA"`

	AuthUsername     string        `mapstructure:"AUTH_USERNAME"`
	AuthPassword     string        `mapstructure:"AUTH_PASSWORD"`
	AuthPasswordHash string        `mapstructure:"AUTH_PASSWORD_HASH"`
	SessionSecret    string        `mapstructure:"SESSION_SECRET"`
	SessionTTL       time.Duration `mapstructure:"SESSION_TTL"`
	LoginRateLimit   string        `mapstructure:"LOGIN_RATE_LIMIT"`

	RedisURL     string `mapstructure:"REDIS_URL"`
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`

	WebhookURLs    string   `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret  string   `mapstructure:"WEBHOOK_SECRET"`
	WebhookEvents  []string `mapstructure:"WEBHOOK_EVENTS"`
	WebhookWorkers int      `mapstructure:"WEBHOOK_WORKERS"`

	OTelEnabled       bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint      string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSamplingRatio float64 `mapstructure:"OTEL_SAMPLING_RATIO"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	ReadTimeout    time.Duration `mapstructure:"READ_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "SERVICE_VERSION", "SHUTDOWN_TIMEOUT",
	"STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SIMULATE_LATENCY", "SEED_DEMO_DATA",
	"AUTH_USERNAME", "AUTH_PASSWORD", "AUTH_PASSWORD_HASH", "SESSION_SECRET", "SESSION_TTL", "LOGIN_RATE_LIMIT",
	"REDIS_URL", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"WEBHOOK_URLS", "WEBHOOK_SECRET", "WEBHOOK_EVENTS", "WEBHOOK_WORKERS",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SAMPLING_RATIO",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "READ_TIMEOUT",
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an
// error; environment variables take precedence over it.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVICE_VERSION", "dev")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("SIMULATE_LATENCY", true)
	v.SetDefault("SEED_DEMO_DATA", true)
	v.SetDefault("AUTH_USERNAME", "admin")
	v.SetDefault("AUTH_PASSWORD", "admin")
	v.SetDefault("SESSION_TTL", "8h")
	v.SetDefault("LOGIN_RATE_LIMIT", "10/min")
	v.SetDefault("KAFKA_TOPIC", "appointments.events")
	v.SetDefault("WEBHOOK_EVENTS", "*")
	v.SetDefault("WEBHOOK_WORKERS", 2)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_SAMPLING_RATIO", 1.0)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("READ_TIMEOUT", "10s")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil && !configMissing(err) {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.WebhookEvents = splitList(cfg.WebhookEvents)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	return cfg, nil
}

func configMissing(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production refuses
// the default credentials and requires an explicit session secret.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreDriver)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if strings.TrimSpace(c.AuthUsername) == "" {
		return fmt.Errorf("AUTH_USERNAME must not be empty")
	}
	if c.AuthPassword == "" && c.AuthPasswordHash == "" {
		return fmt.Errorf("AUTH_PASSWORD or AUTH_PASSWORD_HASH is required")
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 bytes, got %d", len(c.SessionSecret))
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if _, _, err := c.LoginLimit(); err != nil {
		return err
	}

	if c.IsProduction() {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in production")
		}
		if c.AuthPasswordHash == "" && c.AuthPassword == "admin" {
			return fmt.Errorf("refusing to start in production with the default password; set AUTH_PASSWORD_HASH")
		}
	}

	if c.OTelSamplingRatio < 0 || c.OTelSamplingRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0,1], got %v", c.OTelSamplingRatio)
	}
	if c.WebhookURLs != "" && c.WebhookWorkers < 1 {
		return fmt.Errorf("WEBHOOK_WORKERS must be at least 1 when WEBHOOK_URLS is set")
	}
	if c.IsProduction() && c.WebhookURLs != "" && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required in production when WEBHOOK_URLS is set")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}

// LoginLimit parses LOGIN_RATE_LIMIT, written as "<count>/<unit>" with unit
// one of s, min or h, or a Go duration such as "10/30s".
func (c *Config) LoginLimit() (int, time.Duration, error) {
	count, unit, ok := strings.Cut(strings.TrimSpace(c.LoginRateLimit), "/")
	if !ok {
		return 0, 0, fmt.Errorf("LOGIN_RATE_LIMIT must look like 10/min, got %q", c.LoginRateLimit)
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("LOGIN_RATE_LIMIT count must be a positive integer, got %q", count)
	}

	var window time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "second":
		window = time.Second
	case "m", "min", "minute":
		window = time.Minute
	case "h", "hour":
		window = time.Hour
	default:
		window, err = time.ParseDuration(unit)
		if err != nil || window <= 0 {
			return 0, 0, fmt.Errorf("LOGIN_RATE_LIMIT window %q is not a duration", unit)
		}
	}
	return n, window, nil
}

// SessionKey returns the token signing key. Without SESSION_SECRET a random
// key is generated, so sessions do not survive a restart; generated reports
// when that happened.
func (c *Config) SessionKey() (key []byte, generated bool, err error) {
	if c.SessionSecret != "" {
		return []byte(c.SessionSecret), false, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, false, fmt.Errorf("generate session secret: %w", err)
	}
	return []byte(hex.EncodeToString(buf)), true, nil
}
