// Package config provides configuration management for the group mail
// service and its privileged helper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// TransportType selects how the helper submits composed messages.
type TransportType string

const (
	// TransportSMTP submits to an SMTP submission server.
	TransportSMTP TransportType = "smtp"
	// TransportSES sends raw messages through AWS SES v2.
	TransportSES TransportType = "ses"
)

// DefaultPath is where the helper reads its configuration from. The helper
// is invoked with a fixed argument list, so it cannot be told otherwise.
const DefaultPath = "/etc/groupmail/groupmail.toml"

// FileConfig is the top-level wrapper for the shared configuration file.
// The daemon and the helper read the same file.
type FileConfig struct {
	Groupmail Config `toml:"groupmail"`
}

// Config holds the complete service configuration.
type Config struct {
	Hostname    string           `toml:"hostname"`
	LogLevel    string           `toml:"log_level"`
	LocalDomain string           `toml:"local_domain"`
	HTTP        HTTPConfig       `toml:"http"`
	Staging     StagingConfig    `toml:"staging"`
	Helper      HelperConfig     `toml:"helper"`
	Limits      LimitsConfig     `toml:"limits"`
	Timeouts    TimeoutsConfig   `toml:"timeouts"`
	Metrics     MetricsConfig    `toml:"metrics"`
	Audit       AuditConfig      `toml:"audit"`
	Auth        AuthConfig       `toml:"auth"`
	Directory   DirectoryConfig  `toml:"directory"`
	Submission  SubmissionConfig `toml:"submission"`
}

// HTTPConfig defines the web listener.
type HTTPConfig struct {
	Address string `toml:"address"`
}

// StagingConfig defines where request files are staged for the helper.
type StagingConfig struct {
	Root string `toml:"root"`
}

// HelperConfig describes how the privileged helper is invoked.
//
// Elevate is the command prefix used to gain the helper's privileges, for
// example ["sudo", "-n"]. The wrapper must be configured to keep LC_ALL, IP,
// IPFWD and SESSPW (sudoers env_keep). An empty prefix executes the helper
// directly.
type HelperConfig struct {
	Path    string   `toml:"path"`
	Elevate []string `toml:"elevate"`
	Locale  string   `toml:"locale"`
}

// LimitsConfig defines per-request resource limits.
type LimitsConfig struct {
	MaxMessageSize int `toml:"max_message_size"`
	MaxRecipients  int `toml:"max_recipients"`
	MaxAttachments int `toml:"max_attachments"`
}

// TimeoutsConfig defines HTTP server timeouts.
type TimeoutsConfig struct {
	Read  string `toml:"read"`
	Write string `toml:"write"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// AuditConfig selects where audit records of sent mail are published.
// Type is "redis" or empty for no publishing.
type AuditConfig struct {
	Type     string `toml:"type"`
	RedisURL string `toml:"redis_url"`
	Stream   string `toml:"stream"`
	MaxLen   int64  `toml:"max_len"`
}

// AuthConfig configures bearer token validation for the web endpoint.
type AuthConfig struct {
	JWKSURL         string   `toml:"jwks_url"`
	Issuer          string   `toml:"issuer"`
	Audience        string   `toml:"audience"`
	UsernameClaim   string   `toml:"username_claim"`
	RefreshInterval string   `toml:"refresh_interval"`
	AllowedDomains  []string `toml:"allowed_domains"`
}

// DirectoryConfig is the static group directory.
type DirectoryConfig struct {
	PrivilegedUsers []string      `toml:"privileged_users"`
	Groups          []GroupConfig `toml:"groups"`
}

// GroupConfig describes one group account.
type GroupConfig struct {
	Account string   `toml:"account"`
	Name    string   `toml:"name"`
	Sender  bool     `toml:"sender"`
	Members []string `toml:"members"`
}

// SubmissionConfig configures how the helper hands messages off.
type SubmissionConfig struct {
	Transport TransportType `toml:"transport"`
	Address   string        `toml:"address"`
	TLS       string        `toml:"tls"`  // "starttls", "tls" or "none"
	Auth      string        `toml:"auth"` // "plain", "oauthbearer" or "none"
	DKIM      DKIMConfig    `toml:"dkim"`
	SES       SESConfig     `toml:"ses"`
	Scan      ScanConfig    `toml:"scan"`
}

// DKIMConfig enables DKIM signing of outgoing messages when KeyFile is set.
type DKIMConfig struct {
	Domain   string `toml:"domain"`
	Selector string `toml:"selector"`
	KeyFile  string `toml:"key_file"`
}

// ScanConfig enables an rspamd check of every outgoing message when URL
// is set.
type ScanConfig struct {
	URL      string `toml:"url"`
	Password string `toml:"password"`
	Timeout  string `toml:"timeout"`
	// FailOpen submits the message when rspamd cannot be reached.
	FailOpen bool `toml:"fail_open"`
}

// GetTimeout returns the scan timeout, defaulting to 10 seconds.
func (s ScanConfig) GetTimeout() time.Duration {
	if s.Timeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// SESConfig holds AWS SES settings. Empty keys fall back to the default
// AWS credential chain.
type SESConfig struct {
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		Hostname:    "localhost",
		LogLevel:    "info",
		LocalDomain: "localhost",
		HTTP: HTTPConfig{
			Address: ":8080",
		},
		Staging: StagingConfig{
			Root: "/tmp/mail-send-as-group",
		},
		Helper: HelperConfig{
			Path:    "/usr/lib/groupmail/mail-send-as-group",
			Elevate: []string{"sudo", "-n"},
			Locale:  "en_US.UTF-8",
		},
		Limits: LimitsConfig{
			MaxMessageSize: 26214400, // 25 MB
			MaxRecipients:  100,
			MaxAttachments: 20,
		},
		Timeouts: TimeoutsConfig{
			Read:  "1m",
			Write: "2m",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9100",
			Path:    "/metrics",
		},
		Audit: AuditConfig{
			Stream: "groupmail:log",
			MaxLen: 100000,
		},
		Auth: AuthConfig{
			UsernameClaim:   "preferred_username",
			RefreshInterval: "1h",
		},
		Submission: SubmissionConfig{
			Transport: TransportSMTP,
			Address:   "localhost:587",
			TLS:       "starttls",
			Auth:      "plain",
		},
	}
}

// Validate checks the settings the daemon needs.
func (c *Config) Validate() error {
	if c.Hostname == "" {
		return errors.New("hostname is required")
	}

	if c.LocalDomain == "" {
		return errors.New("local_domain is required")
	}

	if c.HTTP.Address == "" {
		return errors.New("http address is required")
	}

	if c.Staging.Root == "" {
		return errors.New("staging root is required")
	}
	if !filepath.IsAbs(c.Staging.Root) {
		return fmt.Errorf("staging root %q must be an absolute path", c.Staging.Root)
	}

	if c.Helper.Path == "" {
		return errors.New("helper path is required")
	}
	if !filepath.IsAbs(c.Helper.Path) {
		return fmt.Errorf("helper path %q must be an absolute path", c.Helper.Path)
	}

	if c.Limits.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}

	if c.Limits.MaxRecipients <= 0 {
		return errors.New("max_recipients must be positive")
	}

	if c.Limits.MaxAttachments < 0 {
		return errors.New("max_attachments must not be negative")
	}

	for name, v := range map[string]string{"read": c.Timeouts.Read, "write": c.Timeouts.Write} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s timeout: %w", name, err)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	switch c.Audit.Type {
	case "":
	case "redis":
		if c.Audit.RedisURL == "" {
			return errors.New("audit redis_url is required for the redis audit sink")
		}
		if c.Audit.Stream == "" {
			return errors.New("audit stream is required for the redis audit sink")
		}
	default:
		return fmt.Errorf("invalid audit type %q", c.Audit.Type)
	}

	if c.Auth.JWKSURL == "" {
		return errors.New("auth jwks_url is required")
	}
	if c.Auth.Issuer == "" {
		return errors.New("auth issuer is required")
	}
	if c.Auth.Audience == "" {
		return errors.New("auth audience is required")
	}
	if c.Auth.RefreshInterval != "" {
		if _, err := time.ParseDuration(c.Auth.RefreshInterval); err != nil {
			return fmt.Errorf("invalid auth refresh_interval: %w", err)
		}
	}

	return c.validateDirectory()
}

// ValidateSubmission checks the settings the helper needs.
func (c *Config) ValidateSubmission() error {
	if c.LocalDomain == "" {
		return errors.New("local_domain is required")
	}

	s := c.Submission
	switch s.Transport {
	case TransportSMTP:
		if s.Address == "" {
			return errors.New("submission address is required for smtp transport")
		}
		switch s.TLS {
		case "starttls", "tls", "none":
		default:
			return fmt.Errorf("invalid submission tls mode %q (valid: starttls, tls, none)", s.TLS)
		}
		switch s.Auth {
		case "plain", "oauthbearer", "none":
		default:
			return fmt.Errorf("invalid submission auth %q (valid: plain, oauthbearer, none)", s.Auth)
		}
	case TransportSES:
		if s.SES.Region == "" {
			return errors.New("ses region is required for ses transport")
		}
	default:
		return fmt.Errorf("invalid submission transport %q", s.Transport)
	}

	if s.DKIM.KeyFile != "" && (s.DKIM.Domain == "" || s.DKIM.Selector == "") {
		return errors.New("dkim domain and selector are required when key_file is set")
	}

	if s.Scan.Timeout != "" {
		if _, err := time.ParseDuration(s.Scan.Timeout); err != nil {
			return fmt.Errorf("invalid scan timeout: %w", err)
		}
	}

	return c.validateDirectory()
}

func (c *Config) validateDirectory() error {
	seen := make(map[string]bool)
	for i, g := range c.Directory.Groups {
		if g.Account == "" {
			return fmt.Errorf("directory group %d: account is required", i)
		}
		if seen[g.Account] {
			return fmt.Errorf("directory group %d: duplicate account %q", i, g.Account)
		}
		seen[g.Account] = true
	}
	return nil
}

// ReadTimeout returns the HTTP read timeout. Returns 1 minute if not
// configured or invalid.
func (c *TimeoutsConfig) ReadTimeout() time.Duration {
	return parseDurationOr(c.Read, time.Minute)
}

// WriteTimeout returns the HTTP write timeout. Returns 2 minutes if not
// configured or invalid.
func (c *TimeoutsConfig) WriteTimeout() time.Duration {
	return parseDurationOr(c.Write, 2*time.Minute)
}

// GetRefreshInterval returns the JWKS refresh interval, 1 hour by default.
func (c *AuthConfig) GetRefreshInterval() time.Duration {
	return parseDurationOr(c.RefreshInterval, time.Hour)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
