package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// GUARDKIT_CACHE_CAPACITY=500 sets cache.capacity.
const EnvPrefix = "GUARDKIT_"

// LoaderOption customizes Load.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	configFile string
	envFile    string
	skipEnv    bool
}

// WithConfigFile sets an explicit config file path instead of searching.
func WithConfigFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.configFile = path }
}

// WithEnvFile sets an explicit .env file path instead of searching.
func WithEnvFile(path string) LoaderOption {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithoutEnv disables environment variable overrides. Used by tests that
// must not be affected by the ambient environment.
func WithoutEnv() LoaderOption {
	return func(o *loaderOptions) { o.skipEnv = true }
}

// Load reads configuration from an optional YAML file, an optional .env
// file, and GUARDKIT_-prefixed environment variables (highest precedence),
// then applies defaults and validates. A missing config file is not an
// error; the defaults stand alone.
func Load(opts ...LoaderOption) (*Config, error) {
	var o loaderOptions
	for _, opt := range opts {
		opt(&o)
	}

	configFile := o.configFile
	if configFile == "" {
		configFile = findFirst("./guardkit.yml", "./config/guardkit.yml", "./config.yml")
	}
	envFile := o.envFile
	if envFile == "" {
		envFile = findFirst(".env")
	}

	v := viper.New()

	if configFile != "" && fileExists(configFile) {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	if !o.skipEnv {
		if envFile != "" && fileExists(envFile) {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
		bindPrefixedEnv(v)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindPrefixedEnv maps GUARDKIT_* environment variables onto nested viper
// keys. GUARDKIT_CACHE_DEFAULT_TTL becomes cache.default_ttl (plus the other
// nesting variants, since the split point is ambiguous).
func bindPrefixedEnv(v *viper.Viper) {
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 || !strings.HasPrefix(pair[0], EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(pair[0], EnvPrefix)
		for _, variant := range nestedKeyVariants(key) {
			v.Set(variant, pair[1])
		}
	}
}

// nestedKeyVariants returns the possible nested keys for an env var name:
// CACHE_DEFAULT_TTL -> [cache_default_ttl, cache.default.ttl,
// cache.default_ttl, cache.default.ttl] with duplicates removed.
func nestedKeyVariants(envKey string) []string {
	lower := strings.ToLower(envKey)
	parts := strings.Split(lower, "_")
	if len(parts) <= 1 {
		return []string{lower}
	}

	variants := []string{
		lower,
		strings.ReplaceAll(lower, "_", "."),
	}
	for i := 1; i < len(parts); i++ {
		variants = append(variants, strings.Join(parts[:i], ".")+"."+strings.Join(parts[i:], "_"))
	}

	seen := make(map[string]bool, len(variants))
	out := make([]string, 0, len(variants))
	for _, variant := range variants {
		if !seen[variant] {
			seen[variant] = true
			out = append(out, variant)
		}
	}
	return out
}

func findFirst(paths ...string) string {
	for _, p := range paths {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
