package config

import (
	"strings"
	"testing"
	"time"
)

const validSecret = "0123456789abcdef0123456789abcdef"

// clearEnv blanks keys that would otherwise leak from the host environment.
// Viper treats empty variables as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "REDIS_URL", "RATE_LIMIT_BACKEND", "JWT_SECRET", "ENABLE_EMBEDDED_DASHBOARD"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":3001" || cfg.GRPCAddr != ":8080" {
		t.Errorf("addrs = %q %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %s, want 15m", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 7*24*time.Hour {
		t.Errorf("RefreshTTL = %s, want 168h", cfg.RefreshTTL())
	}
	if cfg.MaxSessionsPerWorkspace != 1000 {
		t.Errorf("MaxSessionsPerWorkspace = %d, want 1000", cfg.MaxSessionsPerWorkspace)
	}
	if cfg.EnableEmbeddedDashboard {
		t.Error("EnableEmbeddedDashboard should default to false")
	}
	if cfg.StoreTimeout != 3*time.Second {
		t.Errorf("StoreTimeout = %s, want 3s", cfg.StoreTimeout)
	}
	if cfg.RateLimitBackend != BackendMemory {
		t.Errorf("RateLimitBackend = %q, want memory without DATABASE_URL", cfg.RateLimitBackend)
	}
	if cfg.ReuseGrace() != 0 {
		t.Errorf("ReuseGrace = %s, want 0", cfg.ReuseGrace())
	}
	if cfg.AuditRetention() != 90*24*time.Hour {
		t.Errorf("AuditRetention = %s", cfg.AuditRetention())
	}
	if cfg.JWTIssuer != "embedded-sessions" || cfg.JWTAudience != "embedded-dashboard" {
		t.Errorf("issuer/audience = %q/%q", cfg.JWTIssuer, cfg.JWTAudience)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENABLE_EMBEDDED_DASHBOARD", "true")
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("SESSION_TOKEN_TTL", "300")
	t.Setenv("MAX_SESSIONS_PER_WORKSPACE", "5")
	t.Setenv("DATABASE_URL", "postgres://localhost/embedded")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.EnableEmbeddedDashboard || cfg.AccessTTL() != 5*time.Minute || cfg.MaxSessionsPerWorkspace != 5 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.RateLimitBackend != BackendPostgres {
		t.Errorf("RateLimitBackend = %q, want postgres with DATABASE_URL", cfg.RateLimitBackend)
	}
	if cfg.StoreTimeout != 750*time.Millisecond {
		t.Errorf("StoreTimeout = %s", cfg.StoreTimeout)
	}
	origins := cfg.CORSOrigins()
	if len(origins) != 2 || origins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", origins)
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"short secret when enabled", map[string]string{"ENABLE_EMBEDDED_DASHBOARD": "true", "JWT_SECRET": "short"}, "JWT_SECRET"},
		{"access ttl above refresh ttl", map[string]string{"SESSION_TOKEN_TTL": "1000", "REFRESH_TOKEN_TTL": "10"}, "SESSION_TOKEN_TTL"},
		{"zero cap", map[string]string{"MAX_SESSIONS_PER_WORKSPACE": "0"}, "MAX_SESSIONS_PER_WORKSPACE"},
		{"redis without url", map[string]string{"RATE_LIMIT_BACKEND": "redis"}, "REDIS_URL"},
		{"postgres without dsn", map[string]string{"RATE_LIMIT_BACKEND": "postgres"}, "DATABASE_URL"},
		{"unknown backend", map[string]string{"RATE_LIMIT_BACKEND": "etcd"}, "unknown RATE_LIMIT_BACKEND"},
		{"bcrypt cost", map[string]string{"BCRYPT_COST": "40"}, "BCRYPT_COST"},
		{"negative grace", map[string]string{"REFRESH_REUSE_GRACE": "-1"}, "REFRESH_REUSE_GRACE"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_DisabledAllowsMissingSecret(t *testing.T) {
	t.Setenv("ENABLE_EMBEDDED_DASHBOARD", "false")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err != nil {
		t.Fatalf("Load with feature disabled: %v", err)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"localhost:9092", 1},
		{"a:9092, b:9092,,", 2},
	}
	for _, tc := range testCases {
		c := &Config{KafkaBrokers: tc.in}
		if got := c.KafkaBrokersList(); len(got) != tc.want {
			t.Errorf("KafkaBrokersList(%q) = %v, want %d entries", tc.in, got, tc.want)
		}
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil")
	}
}
