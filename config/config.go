package config

import (
	"time"

	"github.com/taskforge/guardkit/logger"
)

// Config is the full runtime configuration. Every section has working
// defaults, so an empty Config (or a missing config file) yields a usable
// runtime.
type Config struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment" validate:"omitempty,oneof=development staging production"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`

	Logging   logger.Config   `yaml:"logging" mapstructure:"logging"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Breaker   BreakerConfig   `yaml:"breaker" mapstructure:"breaker"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Executor  ExecutorConfig  `yaml:"executor" mapstructure:"executor"`
	Routes    []RouteLimit    `yaml:"routes" mapstructure:"routes" validate:"dive"`
}

// CacheConfig configures the TTL cache.
type CacheConfig struct {
	Capacity      int           `yaml:"capacity" mapstructure:"capacity" validate:"min=0"`
	DefaultTTL    time.Duration `yaml:"default_ttl" mapstructure:"default_ttl" validate:"min=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"min=0"`
	Namespace     string        `yaml:"namespace" mapstructure:"namespace"`
	Shards        int           `yaml:"shards" mapstructure:"shards" validate:"min=0"`
}

// RateLimitConfig configures the sliding-window limiter.
type RateLimitConfig struct {
	MaxRequests   int           `yaml:"max_requests" mapstructure:"max_requests" validate:"min=0"`
	Window        time.Duration `yaml:"window" mapstructure:"window" validate:"min=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval" validate:"min=0"`
	Shards        int           `yaml:"shards" mapstructure:"shards" validate:"min=0"`
}

// BreakerConfig configures default circuit breaker behavior. Per-name
// breakers created through the registry inherit these values.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"min=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout" validate:"min=0"`
}

// RetryConfig configures default retry behavior for the executor.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=0"`
	BackoffDelay time.Duration `yaml:"backoff_delay" mapstructure:"backoff_delay" validate:"min=0"`
	MaxDelay     time.Duration `yaml:"max_delay" mapstructure:"max_delay" validate:"min=0"`
}

// ExecutorConfig configures the resilience executor.
type ExecutorConfig struct {
	// Timeout is the default per-attempt timeout. Zero disables timeouts
	// unless a call overrides it.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"min=0"`
}

// RouteLimit is a per-route rate-limit override for the HTTP middleware.
// Method "*" (or empty) matches any method.
type RouteLimit struct {
	Method      string        `yaml:"method" mapstructure:"method"`
	Path        string        `yaml:"path" mapstructure:"path" validate:"required"`
	MaxRequests int           `yaml:"max_requests" mapstructure:"max_requests" validate:"min=1"`
	Window      time.Duration `yaml:"window" mapstructure:"window" validate:"min=1ms"`
}

// ApplyDefaults fills in zero-valued fields with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "guardkit"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
	c.Logging.ApplyDefaults()

	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 1000
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 5 * time.Minute
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = time.Minute
	}
	if c.Cache.Namespace == "" {
		c.Cache.Namespace = "guardkit"
	}
	if c.Cache.Shards == 0 {
		c.Cache.Shards = 16
	}

	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 15 * time.Minute
	}
	if c.RateLimit.SweepInterval == 0 {
		c.RateLimit.SweepInterval = time.Minute
	}
	if c.RateLimit.Shards == 0 {
		c.RateLimit.Shards = 16
	}

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.RecoveryTimeout == 0 {
		c.Breaker.RecoveryTimeout = 30 * time.Second
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BackoffDelay == 0 {
		c.Retry.BackoffDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 10 * time.Second
	}
}

// Validate checks the configuration against its struct tags and a few
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	return validateStruct(c)
}
