package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

const validConfig = `
sentinel:
  name: futures-cloud-sentinel
  version: 1.0.0
server:
  listen_addr: ":8888"
  max_connections: 100
  request_timeout: 5s
store:
  driver: memory
feed:
  enabled: true
  endpoint: wss://quotes.example.com/stream
  heartbeat_timeout: 1s
watcher:
  poll_interval: 5s
  store_timeout: 3s
logging:
  level: info
  format: json
  output: stdout
`

func TestLoadConfigValid(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sentinel.Name != "futures-cloud-sentinel" {
		t.Errorf("unexpected sentinel name: %s", cfg.Sentinel.Name)
	}
	if cfg.Server.ListenAddr != ":8888" {
		t.Errorf("unexpected listen addr: %s", cfg.Server.ListenAddr)
	}
	if cfg.Watcher.PollInterval != 5*time.Second {
		t.Errorf("unexpected poll interval: %s", cfg.Watcher.PollInterval)
	}
	if cfg.Feed.Endpoint != "wss://quotes.example.com/stream" {
		t.Errorf("unexpected feed endpoint: %s", cfg.Feed.Endpoint)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
sentinel:
  name: futures-cloud-sentinel
  version: 1.0.0
store:
  driver: memory
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":8888" {
		t.Errorf("expected default listen addr :8888, got %s", cfg.Server.ListenAddr)
	}
	if cfg.Server.MaxConnections != 100 {
		t.Errorf("expected default max connections 100, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Watcher.PollInterval != 5*time.Second {
		t.Errorf("expected default poll interval 5s, got %s", cfg.Watcher.PollInterval)
	}
	if cfg.Feed.HeartbeatTimeout != time.Second {
		t.Errorf("expected default heartbeat timeout 1s, got %s", cfg.Feed.HeartbeatTimeout)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Sentinel.Name = "" }},
		{"missing version", func(c *Config) { c.Sentinel.Version = "" }},
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }},
		{"zero max connections", func(c *Config) { c.Server.MaxConnections = 0 }},
		{"zero poll interval", func(c *Config) { c.Watcher.PollInterval = 0 }},
		{"feed without endpoint", func(c *Config) { c.Feed.Enabled = true; c.Feed.Endpoint = "" }},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.FlushInterval = time.Minute
			c.Storage.S3.Bucket = ""
		}},
		{"bad trading session", func(c *Config) {
			c.Trading.EnforceHours = true
			c.Trading.Sessions = []TradingSession{{Open: "9am", Close: "15:00"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	valid := []string{"sentinel-archive", "my.bucket.name", "abc"}
	invalid := []string{"ab", "Sentinel-Archive", "-starts-bad", "ends-bad-", "double..dot"}

	for _, name := range valid {
		if !isValidS3Bucket(name) {
			t.Errorf("expected bucket %q to be valid", name)
		}
	}
	for _, name := range invalid {
		if isValidS3Bucket(name) {
			t.Errorf("expected bucket %q to be invalid", name)
		}
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	tests := map[string]string{
		"":           "development",
		"prod":       "production",
		"production": "production",
		"stag":       "staging",
		"STAGING":    "staging",
	}
	for value, want := range tests {
		t.Setenv("APP_ENV", value)
		if got := AppEnvironment(); got != want {
			t.Errorf("APP_ENV=%q: expected %q, got %q", value, want, got)
		}
	}
}

func baseConfig() *Config {
	return &Config{
		Sentinel: Sentinel{Name: "futures-cloud-sentinel", Version: "1.0.0"},
		Server: ServerConfig{
			ListenAddr:     ":8888",
			MaxConnections: 100,
			RequestTimeout: 5 * time.Second,
		},
		Store: StoreConfig{Driver: "memory"},
		Feed: FeedConfig{
			HeartbeatTimeout: time.Second,
			ReconnectDelay:   5 * time.Second,
		},
		Watcher: WatcherConfig{
			PollInterval: 5 * time.Second,
			StoreTimeout: 3 * time.Second,
		},
	}
}
