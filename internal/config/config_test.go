package config

import (
	"testing"
	"time"
)

// validConfig returns the defaults plus the settings that have no default.
func validConfig() Config {
	cfg := Default()
	cfg.Auth.JWKSURL = "https://idp.example.com/jwks"
	cfg.Auth.Issuer = "https://idp.example.com"
	cfg.Auth.Audience = "groupmail"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Hostname != "localhost" {
		t.Errorf("expected hostname 'localhost', got %q", cfg.Hostname)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log_level 'info', got %q", cfg.LogLevel)
	}

	if cfg.Staging.Root != "/tmp/mail-send-as-group" {
		t.Errorf("expected staging root '/tmp/mail-send-as-group', got %q", cfg.Staging.Root)
	}

	if len(cfg.Helper.Elevate) != 2 || cfg.Helper.Elevate[0] != "sudo" || cfg.Helper.Elevate[1] != "-n" {
		t.Errorf("expected elevate [sudo -n], got %v", cfg.Helper.Elevate)
	}

	if cfg.Helper.Locale != "en_US.UTF-8" {
		t.Errorf("expected locale 'en_US.UTF-8', got %q", cfg.Helper.Locale)
	}

	if cfg.Limits.MaxMessageSize != 26214400 {
		t.Errorf("expected max_message_size 26214400, got %d", cfg.Limits.MaxMessageSize)
	}

	if cfg.Limits.MaxRecipients != 100 {
		t.Errorf("expected max_recipients 100, got %d", cfg.Limits.MaxRecipients)
	}

	if cfg.Submission.Transport != TransportSMTP {
		t.Errorf("expected smtp transport, got %q", cfg.Submission.Transport)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty hostname",
			modify:  func(c *Config) { c.Hostname = "" },
			wantErr: true,
		},
		{
			name:    "empty local domain",
			modify:  func(c *Config) { c.LocalDomain = "" },
			wantErr: true,
		},
		{
			name:    "relative staging root",
			modify:  func(c *Config) { c.Staging.Root = "tmp/staging" },
			wantErr: true,
		},
		{
			name:    "relative helper path",
			modify:  func(c *Config) { c.Helper.Path = "mail-send-as-group" },
			wantErr: true,
		},
		{
			name:    "zero max message size",
			modify:  func(c *Config) { c.Limits.MaxMessageSize = 0 },
			wantErr: true,
		},
		{
			name:    "negative max attachments",
			modify:  func(c *Config) { c.Limits.MaxAttachments = -1 },
			wantErr: true,
		},
		{
			name:    "invalid read timeout",
			modify:  func(c *Config) { c.Timeouts.Read = "soon" },
			wantErr: true,
		},
		{
			name: "metrics enabled without address",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Address = ""
			},
			wantErr: true,
		},
		{
			name:    "redis audit without url",
			modify:  func(c *Config) { c.Audit.Type = "redis" },
			wantErr: true,
		},
		{
			name: "redis audit with url",
			modify: func(c *Config) {
				c.Audit.Type = "redis"
				c.Audit.RedisURL = "redis://localhost:6379/0"
			},
			wantErr: false,
		},
		{
			name:    "unknown audit type",
			modify:  func(c *Config) { c.Audit.Type = "kafka" },
			wantErr: true,
		},
		{
			name:    "missing jwks url",
			modify:  func(c *Config) { c.Auth.JWKSURL = "" },
			wantErr: true,
		},
		{
			name: "duplicate group account",
			modify: func(c *Config) {
				c.Directory.Groups = []GroupConfig{{Account: "staff"}, {Account: "staff"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSubmission(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default smtp", func(c *Config) {}, false},
		{"invalid tls mode", func(c *Config) { c.Submission.TLS = "maybe" }, true},
		{"invalid auth", func(c *Config) { c.Submission.Auth = "cram-md5" }, true},
		{"oauthbearer", func(c *Config) { c.Submission.Auth = "oauthbearer" }, false},
		{"ses without region", func(c *Config) { c.Submission.Transport = TransportSES }, true},
		{"ses with region", func(c *Config) {
			c.Submission.Transport = TransportSES
			c.Submission.SES.Region = "eu-central-1"
		}, false},
		{"unknown transport", func(c *Config) { c.Submission.Transport = "pigeon" }, true},
		{"dkim key without selector", func(c *Config) {
			c.Submission.DKIM.KeyFile = "/etc/groupmail/dkim.pem"
			c.Submission.DKIM.Domain = "example.com"
		}, true},
		{"invalid scan timeout", func(c *Config) {
			c.Submission.Scan.URL = "http://localhost:11333"
			c.Submission.Scan.Timeout = "later"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.ValidateSubmission()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSubmission() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name      string
		read      string
		write     string
		wantRead  time.Duration
		wantWrite time.Duration
	}{
		{"empty uses defaults", "", "", time.Minute, 2 * time.Minute},
		{"explicit values", "30s", "5m", 30 * time.Second, 5 * time.Minute},
		{"invalid uses defaults", "x", "y", time.Minute, 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := TimeoutsConfig{Read: tt.read, Write: tt.write}
			if got := tc.ReadTimeout(); got != tt.wantRead {
				t.Errorf("ReadTimeout() = %v, want %v", got, tt.wantRead)
			}
			if got := tc.WriteTimeout(); got != tt.wantWrite {
				t.Errorf("WriteTimeout() = %v, want %v", got, tt.wantWrite)
			}
		})
	}
}

func TestRefreshInterval(t *testing.T) {
	ac := AuthConfig{}
	if got := ac.GetRefreshInterval(); got != time.Hour {
		t.Errorf("GetRefreshInterval() = %v, want 1h", got)
	}
	ac.RefreshInterval = "15m"
	if got := ac.GetRefreshInterval(); got != 15*time.Minute {
		t.Errorf("GetRefreshInterval() = %v, want 15m", got)
	}
}

func TestScanTimeout(t *testing.T) {
	tests := []struct {
		timeout string
		want    time.Duration
	}{
		{"", 10 * time.Second},
		{"3s", 3 * time.Second},
		{"bogus", 10 * time.Second},
	}
	for _, tt := range tests {
		if got := (ScanConfig{Timeout: tt.timeout}).GetTimeout(); got != tt.want {
			t.Errorf("GetTimeout(%q) = %v, want %v", tt.timeout, got, tt.want)
		}
	}
}
