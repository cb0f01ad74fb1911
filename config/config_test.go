package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	cfg, err := Load(
		WithConfigFile(filepath.Join(t.TempDir(), "missing.yml")),
		WithEnvFile(filepath.Join(t.TempDir(), "missing.env")),
		WithoutEnv(),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Name != "guardkit" {
		t.Errorf("Name = %q, want guardkit", cfg.Name)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if !cfg.Debug {
		t.Error("Debug should default to true in development")
	}
	if cfg.Cache.Capacity != 1000 {
		t.Errorf("Cache.Capacity = %d, want 1000", cfg.Cache.Capacity)
	}
	if cfg.Cache.DefaultTTL != 5*time.Minute {
		t.Errorf("Cache.DefaultTTL = %v, want 5m", cfg.Cache.DefaultTTL)
	}
	if cfg.RateLimit.MaxRequests != 100 {
		t.Errorf("RateLimit.MaxRequests = %d, want 100", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Window != 15*time.Minute {
		t.Errorf("RateLimit.Window = %v, want 15m", cfg.RateLimit.Window)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.RecoveryTimeout != 30*time.Second {
		t.Errorf("Breaker.RecoveryTimeout = %v, want 30s", cfg.Breaker.RecoveryTimeout)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Executor.Timeout != 0 {
		t.Errorf("Executor.Timeout = %v, want 0 (disabled)", cfg.Executor.Timeout)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guardkit.yml")
	content := `
name: checkout
environment: production
cache:
  capacity: 250
  default_ttl: 90s
  namespace: checkout
ratelimit:
  max_requests: 20
  window: 1m
breaker:
  failure_threshold: 2
routes:
  - method: POST
    path: /v1/orders
    max_requests: 5
    window: 10s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(WithConfigFile(path), WithoutEnv())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Name != "checkout" {
		t.Errorf("Name = %q, want checkout", cfg.Name)
	}
	if cfg.Debug {
		t.Error("Debug should stay false outside development")
	}
	if cfg.Cache.Capacity != 250 {
		t.Errorf("Cache.Capacity = %d, want 250", cfg.Cache.Capacity)
	}
	if cfg.Cache.DefaultTTL != 90*time.Second {
		t.Errorf("Cache.DefaultTTL = %v, want 90s", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.Namespace != "checkout" {
		t.Errorf("Cache.Namespace = %q, want checkout", cfg.Cache.Namespace)
	}
	// Unset sections still get defaults.
	if cfg.Retry.BackoffDelay != time.Second {
		t.Errorf("Retry.BackoffDelay = %v, want 1s", cfg.Retry.BackoffDelay)
	}
	if len(cfg.Routes) != 1 {
		t.Fatalf("len(Routes) = %d, want 1", len(cfg.Routes))
	}
	route := cfg.Routes[0]
	if route.Method != "POST" || route.Path != "/v1/orders" || route.MaxRequests != 5 || route.Window != 10*time.Second {
		t.Errorf("unexpected route: %+v", route)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GUARDKIT_CACHE_CAPACITY", "42")
	t.Setenv("GUARDKIT_RATELIMIT_MAX_REQUESTS", "7")
	t.Setenv("GUARDKIT_ENVIRONMENT", "staging")

	cfg, err := Load(
		WithConfigFile(filepath.Join(t.TempDir(), "missing.yml")),
		WithEnvFile(filepath.Join(t.TempDir(), "missing.env")),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cache.Capacity != 42 {
		t.Errorf("Cache.Capacity = %d, want 42", cfg.Cache.Capacity)
	}
	if cfg.RateLimit.MaxRequests != 7 {
		t.Errorf("RateLimit.MaxRequests = %d, want 7", cfg.RateLimit.MaxRequests)
	}
	if cfg.Environment != "staging" {
		t.Errorf("Environment = %q, want staging", cfg.Environment)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("GUARDKIT_CACHE_NAMESPACE=fromenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(
		WithConfigFile(filepath.Join(dir, "missing.yml")),
		WithEnvFile(envPath),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.Namespace != "fromenv" {
		t.Errorf("Cache.Namespace = %q, want fromenv", cfg.Cache.Namespace)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad environment", func(c *Config) { c.Environment = "qa" }},
		{"route missing path", func(c *Config) {
			c.Routes = []RouteLimit{{MaxRequests: 5, Window: time.Second}}
		}},
		{"route zero limit", func(c *Config) {
			c.Routes = []RouteLimit{{Path: "/x", MaxRequests: 0, Window: time.Second}}
		}},
		{"negative capacity", func(c *Config) { c.Cache.Capacity = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestNestedKeyVariants(t *testing.T) {
	variants := nestedKeyVariants("CACHE_DEFAULT_TTL")
	want := map[string]bool{
		"cache.default_ttl": false,
		"cache.default.ttl": false,
	}
	for _, v := range variants {
		if _, ok := want[v]; ok {
			want[v] = true
		}
	}
	for key, seen := range want {
		if !seen {
			t.Errorf("variant %q missing from %v", key, variants)
		}
	}
}
