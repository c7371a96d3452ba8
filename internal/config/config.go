// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Rate-limit backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// MinJWTSecretLength is the minimum HS256 secret length accepted when the feature is enabled.
const MinJWTSecretLength = 32

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :3001).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects in-memory stores (single instance, development).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is used when RateLimitBackend is redis (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// RateLimitBackend is memory, postgres or redis. Empty picks postgres when DATABASE_URL is set.
	RateLimitBackend string `mapstructure:"RATE_LIMIT_BACKEND"`

	// EnableEmbeddedDashboard gates every route except health.
	EnableEmbeddedDashboard bool `mapstructure:"ENABLE_EMBEDDED_DASHBOARD"`
	// JWTSecret signs access tokens (HS256). Required, at least 32 characters, when enabled.
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// SessionTokenTTL is the access-token lifetime in seconds.
	SessionTokenTTL int `mapstructure:"SESSION_TOKEN_TTL"`
	// RefreshTokenTTL is the absolute session lifetime in seconds.
	RefreshTokenTTL int `mapstructure:"REFRESH_TOKEN_TTL"`
	// MaxSessionsPerWorkspace caps active sessions unless the policy returns an override.
	MaxSessionsPerWorkspace int `mapstructure:"MAX_SESSIONS_PER_WORKSPACE"`
	// RefreshReuseGrace, in seconds, reports a just-consumed token as stale instead of reuse. 0 disables.
	RefreshReuseGrace int `mapstructure:"REFRESH_REUSE_GRACE"`

	CreateRateLimit   int `mapstructure:"CREATE_RATE_LIMIT"`
	CreateRateWindow  int `mapstructure:"CREATE_RATE_WINDOW"`
	RefreshRateLimit  int `mapstructure:"REFRESH_RATE_LIMIT"`
	RefreshRateWindow int `mapstructure:"REFRESH_RATE_WINDOW"`
	// StoreTimeout bounds each store and limiter call (e.g. "3s").
	StoreTimeout time.Duration `mapstructure:"STORE_TIMEOUT"`

	// HTTPRateLimitRPS and HTTPRateLimitBurst configure the per-IP edge token bucket. RPS 0 disables it.
	HTTPRateLimitRPS   float64 `mapstructure:"HTTP_RATE_LIMIT_RPS"`
	HTTPRateLimitBurst int     `mapstructure:"HTTP_RATE_LIMIT_BURST"`
	// CORSAllowedOrigins is a comma-separated list of embedding host origins. Empty disables CORS headers.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// EmbedPolicyFile is an optional Rego module replacing the default embedding policy.
	EmbedPolicyFile string `mapstructure:"EMBED_POLICY_FILE"`
	// BcryptCost is the bcrypt cost factor (4–31) for write-key secrets; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Env is the application environment (e.g. "development", "production"). Production selects gin release mode.
	Env string `mapstructure:"APP_ENV"`

	// OTLP exporter. Empty endpoint keeps telemetry in process.
	OTELEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Audit fan-out (optional). When brokers are set, audit entries are also published to Kafka.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the audit forwarder (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the audit forwarder.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// AuditRetentionDays prunes audit rows older than this. 0 keeps them forever.
	AuditRetentionDays int `mapstructure:"AUDIT_RETENTION_DAYS"`
	// RetentionSchedule is a cron spec for the retention job (e.g. "@hourly").
	RetentionSchedule string `mapstructure:"RETENTION_SCHEDULE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key; AutomaticEnv only reaches keys Viper knows about during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":3001")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("RATE_LIMIT_BACKEND", "")
	v.SetDefault("ENABLE_EMBEDDED_DASHBOARD", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "embedded-sessions")
	v.SetDefault("JWT_AUDIENCE", "embedded-dashboard")
	v.SetDefault("SESSION_TOKEN_TTL", 900)
	v.SetDefault("REFRESH_TOKEN_TTL", 604800)
	v.SetDefault("MAX_SESSIONS_PER_WORKSPACE", 1000)
	v.SetDefault("REFRESH_REUSE_GRACE", 0)
	v.SetDefault("CREATE_RATE_LIMIT", 30)
	v.SetDefault("CREATE_RATE_WINDOW", 60)
	v.SetDefault("REFRESH_RATE_LIMIT", 60)
	v.SetDefault("REFRESH_RATE_WINDOW", 60)
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("HTTP_RATE_LIMIT_RPS", 20)
	v.SetDefault("HTTP_RATE_LIMIT_BURST", 40)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("EMBED_POLICY_FILE", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "embedded-sessions")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "embedded-session-audit")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "embedded-sessions-audit-worker")
	v.SetDefault("AUDIT_RETENTION_DAYS", 90)
	v.SetDefault("RETENTION_SCHEDULE", "@hourly")
}

func (c *Config) normalize() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.EnableEmbeddedDashboard && len(c.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("config: JWT_SECRET must be at least %d characters when ENABLE_EMBEDDED_DASHBOARD is true", MinJWTSecretLength)
	}
	if c.SessionTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("config: SESSION_TOKEN_TTL and REFRESH_TOKEN_TTL must be positive")
	}
	if c.SessionTokenTTL > c.RefreshTokenTTL {
		return errors.New("config: SESSION_TOKEN_TTL must not exceed REFRESH_TOKEN_TTL")
	}
	if c.MaxSessionsPerWorkspace <= 0 {
		return errors.New("config: MAX_SESSIONS_PER_WORKSPACE must be positive")
	}
	if c.RefreshReuseGrace < 0 {
		return errors.New("config: REFRESH_REUSE_GRACE must not be negative")
	}
	if c.CreateRateWindow <= 0 || c.RefreshRateWindow <= 0 {
		return errors.New("config: rate limit windows must be positive")
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 3 * time.Second
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	if c.RateLimitBackend == "" {
		c.RateLimitBackend = BackendMemory
		if c.DatabaseURL != "" {
			c.RateLimitBackend = BackendPostgres
		}
	}
	switch c.RateLimitBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: RATE_LIMIT_BACKEND=postgres requires DATABASE_URL")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: RATE_LIMIT_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}
	return nil
}

// AccessTTL returns SessionTokenTTL as a duration.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.SessionTokenTTL) * time.Second
}

// RefreshTTL returns RefreshTokenTTL as a duration.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

// ReuseGrace returns RefreshReuseGrace as a duration.
func (c *Config) ReuseGrace() time.Duration {
	return time.Duration(c.RefreshReuseGrace) * time.Second
}

// CreateWindow returns CreateRateWindow as a duration.
func (c *Config) CreateWindow() time.Duration {
	return time.Duration(c.CreateRateWindow) * time.Second
}

// RefreshWindow returns RefreshRateWindow as a duration.
func (c *Config) RefreshWindow() time.Duration {
	return time.Duration(c.RefreshRateWindow) * time.Second
}

// AuditRetention returns AuditRetentionDays as a duration, or 0 when retention is disabled.
func (c *Config) AuditRetention() time.Duration {
	if c.AuditRetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOrigins returns the configured embedding host origins.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
