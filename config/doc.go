// Package config loads and validates the daemon configuration from a yaml
// file and environment variables via viper. Breaker and rate-limit
// settings have documented defaults; per-target overrides are declared in
// the targets list.
package config
