package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values.
type Flags struct {
	ConfigPath  string
	Hostname    string
	LogLevel    string
	Listen      string
	LocalDomain string
	StagingRoot string
	HelperPath  string
}

// ParseFlags parses command-line flags and returns a Flags struct.
func ParseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", DefaultPath, "Path to configuration file")
	flag.StringVar(&f.Hostname, "hostname", "", "Server hostname")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&f.Listen, "listen", "", "HTTP listen address")
	flag.StringVar(&f.LocalDomain, "local-domain", "", "Mail domain used to qualify bare recipient names")
	flag.StringVar(&f.StagingRoot, "staging-root", "", "Directory under which request files are staged")
	flag.StringVar(&f.HelperPath, "helper", "", "Path to the privileged send helper")

	flag.Parse()
	return f
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	// Merge file config into defaults
	cfg = mergeConfig(cfg, fileConfig.Groupmail)

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-empty flag values override config file values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	if f.Listen != "" {
		cfg.HTTP.Address = f.Listen
	}

	if f.LocalDomain != "" {
		cfg.LocalDomain = f.LocalDomain
	}

	if f.StagingRoot != "" {
		cfg.Staging.Root = f.StagingRoot
	}

	if f.HelperPath != "" {
		cfg.Helper.Path = f.HelperPath
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags,
// then applies environment and flag overrides.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	return ApplyFlags(ApplyEnv(cfg), f), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}

	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	if src.LocalDomain != "" {
		dst.LocalDomain = src.LocalDomain
	}

	if src.HTTP.Address != "" {
		dst.HTTP.Address = src.HTTP.Address
	}

	if src.Staging.Root != "" {
		dst.Staging.Root = src.Staging.Root
	}

	if src.Helper.Path != "" {
		dst.Helper.Path = src.Helper.Path
	}

	// A present but empty elevate list means "run the helper directly".
	if src.Helper.Elevate != nil {
		dst.Helper.Elevate = src.Helper.Elevate
	}

	if src.Helper.Locale != "" {
		dst.Helper.Locale = src.Helper.Locale
	}

	if src.Limits.MaxMessageSize > 0 {
		dst.Limits.MaxMessageSize = src.Limits.MaxMessageSize
	}

	if src.Limits.MaxRecipients > 0 {
		dst.Limits.MaxRecipients = src.Limits.MaxRecipients
	}

	if src.Limits.MaxAttachments > 0 {
		dst.Limits.MaxAttachments = src.Limits.MaxAttachments
	}

	if src.Timeouts.Read != "" {
		dst.Timeouts.Read = src.Timeouts.Read
	}

	if src.Timeouts.Write != "" {
		dst.Timeouts.Write = src.Timeouts.Write
	}

	// Metrics: enabled is explicitly set (boolean), so we merge if source has any non-zero value
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}

	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}

	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	if src.Audit.Type != "" {
		dst.Audit.Type = src.Audit.Type
	}

	if src.Audit.RedisURL != "" {
		dst.Audit.RedisURL = src.Audit.RedisURL
	}

	if src.Audit.Stream != "" {
		dst.Audit.Stream = src.Audit.Stream
	}

	if src.Audit.MaxLen > 0 {
		dst.Audit.MaxLen = src.Audit.MaxLen
	}

	dst.Auth = mergeAuth(dst.Auth, src.Auth)

	if len(src.Directory.PrivilegedUsers) > 0 {
		dst.Directory.PrivilegedUsers = src.Directory.PrivilegedUsers
	}

	if len(src.Directory.Groups) > 0 {
		dst.Directory.Groups = src.Directory.Groups
	}

	dst.Submission = mergeSubmission(dst.Submission, src.Submission)

	return dst
}

func mergeAuth(dst, src AuthConfig) AuthConfig {
	if src.JWKSURL != "" {
		dst.JWKSURL = src.JWKSURL
	}
	if src.Issuer != "" {
		dst.Issuer = src.Issuer
	}
	if src.Audience != "" {
		dst.Audience = src.Audience
	}
	if src.UsernameClaim != "" {
		dst.UsernameClaim = src.UsernameClaim
	}
	if src.RefreshInterval != "" {
		dst.RefreshInterval = src.RefreshInterval
	}
	if len(src.AllowedDomains) > 0 {
		dst.AllowedDomains = src.AllowedDomains
	}
	return dst
}

func mergeSubmission(dst, src SubmissionConfig) SubmissionConfig {
	if src.Transport != "" {
		dst.Transport = src.Transport
	}
	if src.Address != "" {
		dst.Address = src.Address
	}
	if src.TLS != "" {
		dst.TLS = src.TLS
	}
	if src.Auth != "" {
		dst.Auth = src.Auth
	}
	if src.DKIM.Domain != "" {
		dst.DKIM.Domain = src.DKIM.Domain
	}
	if src.DKIM.Selector != "" {
		dst.DKIM.Selector = src.DKIM.Selector
	}
	if src.DKIM.KeyFile != "" {
		dst.DKIM.KeyFile = src.DKIM.KeyFile
	}
	if src.SES.Region != "" {
		dst.SES.Region = src.SES.Region
	}
	if src.SES.AccessKeyID != "" {
		dst.SES.AccessKeyID = src.SES.AccessKeyID
	}
	if src.SES.SecretAccessKey != "" {
		dst.SES.SecretAccessKey = src.SES.SecretAccessKey
	}
	if src.Scan.URL != "" {
		dst.Scan.URL = src.Scan.URL
	}
	if src.Scan.Password != "" {
		dst.Scan.Password = src.Scan.Password
	}
	if src.Scan.Timeout != "" {
		dst.Scan.Timeout = src.Scan.Timeout
	}
	if src.Scan.FailOpen {
		dst.Scan.FailOpen = true
	}
	return dst
}
