package config

import (
	"os"
	"strings"
)

// ApplyEnv applies environment variable overrides to the configuration.
// Environment variables take precedence over TOML config but are overridden by command-line flags.
// Only the daemon calls this; the helper runs with a scrubbed environment.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("GROUPMAIL_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("GROUPMAIL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GROUPMAIL_LOCAL_DOMAIN"); v != "" {
		cfg.LocalDomain = v
	}
	if v := os.Getenv("GROUPMAIL_HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("GROUPMAIL_STAGING_ROOT"); v != "" {
		cfg.Staging.Root = v
	}
	if v := os.Getenv("GROUPMAIL_HELPER_PATH"); v != "" {
		cfg.Helper.Path = v
	}
	if v, ok := os.LookupEnv("GROUPMAIL_HELPER_ELEVATE"); ok {
		// Space separated; an empty value disables elevation.
		cfg.Helper.Elevate = strings.Fields(v)
	}
	if v := os.Getenv("GROUPMAIL_AUDIT_REDIS_URL"); v != "" {
		cfg.Audit.Type = "redis"
		cfg.Audit.RedisURL = v
	}
	if v := os.Getenv("GROUPMAIL_AUTH_JWKS_URL"); v != "" {
		cfg.Auth.JWKSURL = v
	}

	return cfg
}
