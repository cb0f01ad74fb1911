// Package config provides configuration loading and validation for the
// guardkit runtime.
//
// It uses Viper to load an optional YAML file, godotenv to load an optional
// .env file, and GUARDKIT_-prefixed environment variables as the highest-
// precedence override (e.g., GUARDKIT_CACHE_CAPACITY=500). Every field has a
// working default, so Load() with no files present returns a valid config.
//
// # Usage
//
//	cfg, err := config.Load(config.WithConfigFile("guardkit.yml"))
package config
