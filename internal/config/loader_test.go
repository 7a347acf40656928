package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}

	// Should return defaults
	expected := Default()
	if cfg.Hostname != expected.Hostname {
		t.Errorf("expected hostname %q, got %q", expected.Hostname, cfg.Hostname)
	}
}

func TestLoadValidTOML(t *testing.T) {
	content := `
[groupmail]
hostname = "mail.example.com"
log_level = "debug"
local_domain = "school.example"

[groupmail.http]
address = ":8443"

[groupmail.staging]
root = "/var/spool/groupmail"

[groupmail.helper]
path = "/usr/libexec/groupmail/send"
elevate = ["doas"]
locale = "de_DE.UTF-8"

[groupmail.limits]
max_message_size = 10485760
max_recipients = 50
max_attachments = 5

[groupmail.audit]
type = "redis"
redis_url = "redis://localhost:6379/2"
stream = "mail:log"

[groupmail.directory]
privileged_users = ["alice"]

[[groupmail.directory.groups]]
account = "teachers"
name = "Teachers"
sender = true
members = ["alice", "bob"]

[groupmail.submission]
transport = "smtp"
address = "mail.school.example:465"
tls = "tls"
auth = "oauthbearer"

[groupmail.submission.dkim]
domain = "school.example"
selector = "gm"
key_file = "/etc/groupmail/dkim.pem"

[groupmail.submission.scan]
url = "http://127.0.0.1:11333"
timeout = "5s"
fail_open = true
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "mail.example.com" {
		t.Errorf("hostname = %q, want 'mail.example.com'", cfg.Hostname)
	}

	if cfg.LocalDomain != "school.example" {
		t.Errorf("local_domain = %q, want 'school.example'", cfg.LocalDomain)
	}

	if cfg.HTTP.Address != ":8443" {
		t.Errorf("http.address = %q, want ':8443'", cfg.HTTP.Address)
	}

	if cfg.Staging.Root != "/var/spool/groupmail" {
		t.Errorf("staging.root = %q, want '/var/spool/groupmail'", cfg.Staging.Root)
	}

	if cfg.Helper.Path != "/usr/libexec/groupmail/send" {
		t.Errorf("helper.path = %q", cfg.Helper.Path)
	}

	if len(cfg.Helper.Elevate) != 1 || cfg.Helper.Elevate[0] != "doas" {
		t.Errorf("helper.elevate = %v, want [doas]", cfg.Helper.Elevate)
	}

	if cfg.Helper.Locale != "de_DE.UTF-8" {
		t.Errorf("helper.locale = %q", cfg.Helper.Locale)
	}

	if cfg.Limits.MaxRecipients != 50 || cfg.Limits.MaxAttachments != 5 {
		t.Errorf("limits = %+v", cfg.Limits)
	}

	if cfg.Audit.Type != "redis" || cfg.Audit.Stream != "mail:log" {
		t.Errorf("audit = %+v", cfg.Audit)
	}

	if len(cfg.Directory.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(cfg.Directory.Groups))
	}
	g := cfg.Directory.Groups[0]
	if g.Account != "teachers" || !g.Sender || len(g.Members) != 2 {
		t.Errorf("group = %+v", g)
	}

	if cfg.Submission.TLS != "tls" || cfg.Submission.Auth != "oauthbearer" {
		t.Errorf("submission = %+v", cfg.Submission)
	}

	if cfg.Submission.DKIM.Selector != "gm" {
		t.Errorf("dkim selector = %q, want 'gm'", cfg.Submission.DKIM.Selector)
	}

	if cfg.Submission.Scan.URL != "http://127.0.0.1:11333" || !cfg.Submission.Scan.FailOpen {
		t.Errorf("scan = %+v", cfg.Submission.Scan)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	content := `
[groupmail
hostname = "broken
`

	path := createTempConfig(t, content)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid TOML, got nil")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	content := `
[groupmail]
hostname = "partial.example.com"
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hostname != "partial.example.com" {
		t.Errorf("hostname = %q, want 'partial.example.com'", cfg.Hostname)
	}

	// Defaults should be preserved for unspecified values
	defaults := Default()
	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("log_level = %q, want default %q", cfg.LogLevel, defaults.LogLevel)
	}
	if cfg.Staging.Root != defaults.Staging.Root {
		t.Errorf("staging.root = %q, want default %q", cfg.Staging.Root, defaults.Staging.Root)
	}
	if len(cfg.Helper.Elevate) != len(defaults.Helper.Elevate) {
		t.Errorf("helper.elevate = %v, want default %v", cfg.Helper.Elevate, defaults.Helper.Elevate)
	}
}

func TestLoadEmptyElevateDisablesWrapper(t *testing.T) {
	content := `
[groupmail.helper]
elevate = []
`

	path := createTempConfig(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Helper.Elevate) != 0 {
		t.Errorf("helper.elevate = %v, want empty", cfg.Helper.Elevate)
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()
	flags := &Flags{
		Hostname:    "flag.example.com",
		LogLevel:    "debug",
		Listen:      ":9090",
		LocalDomain: "flag.example",
		StagingRoot: "/srv/staging",
		HelperPath:  "/srv/helper",
	}

	result := ApplyFlags(cfg, flags)

	if result.Hostname != "flag.example.com" {
		t.Errorf("hostname = %q", result.Hostname)
	}
	if result.LogLevel != "debug" {
		t.Errorf("log_level = %q", result.LogLevel)
	}
	if result.HTTP.Address != ":9090" {
		t.Errorf("http.address = %q", result.HTTP.Address)
	}
	if result.LocalDomain != "flag.example" {
		t.Errorf("local_domain = %q", result.LocalDomain)
	}
	if result.Staging.Root != "/srv/staging" {
		t.Errorf("staging.root = %q", result.Staging.Root)
	}
	if result.Helper.Path != "/srv/helper" {
		t.Errorf("helper.path = %q", result.Helper.Path)
	}
}

func TestApplyFlagsEmptyValuesDoNotOverride(t *testing.T) {
	cfg := Default()
	cfg.Hostname = "config.example.com"

	result := ApplyFlags(cfg, &Flags{})

	if result.Hostname != "config.example.com" {
		t.Errorf("hostname = %q, want 'config.example.com'", result.Hostname)
	}
	if result.Staging.Root != cfg.Staging.Root {
		t.Errorf("staging.root = %q, want %q", result.Staging.Root, cfg.Staging.Root)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GROUPMAIL_LOCAL_DOMAIN", "env.example")
	t.Setenv("GROUPMAIL_HELPER_ELEVATE", "")
	t.Setenv("GROUPMAIL_AUDIT_REDIS_URL", "redis://cache:6379/1")

	result := ApplyEnv(Default())

	if result.LocalDomain != "env.example" {
		t.Errorf("local_domain = %q, want 'env.example'", result.LocalDomain)
	}
	if len(result.Helper.Elevate) != 0 {
		t.Errorf("helper.elevate = %v, want empty", result.Helper.Elevate)
	}
	if result.Audit.Type != "redis" || result.Audit.RedisURL != "redis://cache:6379/1" {
		t.Errorf("audit = %+v", result.Audit)
	}
}

func TestFlagPriorityOverConfig(t *testing.T) {
	content := `
[groupmail]
hostname = "config.example.com"
local_domain = "config.example"
`

	path := createTempConfig(t, content)
	t.Setenv("GROUPMAIL_LOCAL_DOMAIN", "env.example")

	cfg, err := LoadWithFlags(&Flags{ConfigPath: path, Hostname: "flag.example.com"})
	if err != nil {
		t.Fatalf("LoadWithFlags() error = %v", err)
	}

	if cfg.Hostname != "flag.example.com" {
		t.Errorf("hostname = %q, want flag value", cfg.Hostname)
	}
	if cfg.LocalDomain != "env.example" {
		t.Errorf("local_domain = %q, want env value", cfg.LocalDomain)
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "groupmail.toml")

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	return path
}
