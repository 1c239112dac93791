package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.MaxAttempts != 3 {
		t.Errorf("max_attempts = %d, want 3", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.RequestsPerSecond != 1.0 {
		t.Errorf("requests_per_second = %v, want 1.0", cfg.Fetch.RequestsPerSecond)
	}
	if cfg.Fetch.BaseDelay() != 250*time.Millisecond {
		t.Errorf("base delay = %v, want 250ms", cfg.Fetch.BaseDelay())
	}
	if cfg.Transport.Kind != "nethttp" {
		t.Errorf("transport kind = %q, want nethttp", cfg.Transport.Kind)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("storage backend = %q, want memory", cfg.Storage.Backend)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
fetch:
  max_attempts: 4
  requests_per_second: 0.5
  base_delay_ms: 2000
  max_delay_ms: 30000
  blocked_status_codes: [403, 429, 503]
  ban_patterns:
    - "please verify you are a human"
  proxy_list:
    - "http://proxy-a:8080"
    - "http://proxy-b:8080"
  user_agent_list:
    - "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
  limiter: token_bucket
  burst: 3
transport:
  kind: colly
storage:
  backend: postgres
  dsn: "postgres://localhost/stubborn"
archive:
  backend: local
  base_dir: /tmp/bodies
worker:
  concurrency: 8
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Fetch.MaxAttempts != 4 {
		t.Errorf("max_attempts = %d, want 4", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.BaseDelay() != 2*time.Second {
		t.Errorf("base delay = %v, want 2s", cfg.Fetch.BaseDelay())
	}
	if len(cfg.Fetch.ProxyList) != 2 {
		t.Errorf("proxy list length = %d, want 2", len(cfg.Fetch.ProxyList))
	}
	if cfg.Fetch.Limiter != "token_bucket" {
		t.Errorf("limiter = %q, want token_bucket", cfg.Fetch.Limiter)
	}
	if cfg.Transport.Kind != "colly" {
		t.Errorf("transport kind = %q, want colly", cfg.Transport.Kind)
	}
	if cfg.Logging.Development {
		t.Error("logging.development should be false")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }, "max_attempts"},
		{"negative rate", func(c *Config) { c.Fetch.RequestsPerSecond = -1 }, "requests_per_second"},
		{"unknown limiter", func(c *Config) { c.Fetch.Limiter = "leaky" }, "limiter"},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }, "transport.kind"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.dsn"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = "gcs" }, "gcs_bucket"},
		{"pubsub without topic", func(c *Config) { c.PubSub.Enabled = true }, "pubsub"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
