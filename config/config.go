package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Sentinel Sentinel      `yaml:"sentinel"`
	Server   ServerConfig  `yaml:"server"`
	Store    StoreConfig   `yaml:"store"`
	Feed     FeedConfig    `yaml:"feed"`
	Watcher  WatcherConfig `yaml:"watcher"`
	Trading  TradingConfig `yaml:"trading"`
	Archive  ArchiveConfig `yaml:"archive"`
	Storage  StorageConfig `yaml:"storage"`
	Logging  LoggingConfig `yaml:"logging"`
}

type Sentinel struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	MaxConnections int           `yaml:"max_connections"`
	AcceptRate     float64       `yaml:"accept_rate"`
	AcceptBurst    int           `yaml:"accept_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

type FeedConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Endpoint         string        `yaml:"endpoint"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

type WatcherConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

type TradingConfig struct {
	EnforceHours bool             `yaml:"enforce_hours"`
	Sessions     []TradingSession `yaml:"sessions"`
}

// TradingSession is a daily window in "15:04" wall-clock notation.
type TradingSession struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
	Buffer        int           `yaml:"buffer"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Server: ServerConfig{
			ListenAddr:     ":8888",
			MaxConnections: 100,
			AcceptRate:     50,
			AcceptBurst:    100,
			RequestTimeout: 5 * time.Second,
		},
		Watcher: WatcherConfig{
			PollInterval: 5 * time.Second,
			StoreTimeout: 3 * time.Second,
		},
		Feed: FeedConfig{
			HeartbeatTimeout: time.Second,
			ReconnectDelay:   5 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override store/S3 settings from environment variables if available
	if v := os.Getenv("STORE_DSN"); v != "" {
		config.Store.DSN = strings.TrimSpace(v)
	}
	if config.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Sentinel.Name == "" {
		return fmt.Errorf("sentinel.name is required")
	}

	if cfg.Sentinel.Version == "" {
		return fmt.Errorf("sentinel.version is required")
	}

	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if cfg.Server.MaxConnections <= 0 {
		return fmt.Errorf("server.max_connections must be greater than 0")
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be greater than 0")
	}

	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be 'postgres' or 'memory'")
	}

	if cfg.Feed.Enabled && cfg.Feed.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required when the feed is enabled")
	}
	if cfg.Feed.HeartbeatTimeout <= 0 {
		return fmt.Errorf("feed.heartbeat_timeout must be greater than 0")
	}

	if cfg.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.poll_interval must be greater than 0")
	}
	if cfg.Watcher.StoreTimeout <= 0 {
		return fmt.Errorf("watcher.store_timeout must be greater than 0")
	}

	if cfg.Trading.EnforceHours {
		for _, s := range cfg.Trading.Sessions {
			if _, err := time.Parse("15:04", s.Open); err != nil {
				return fmt.Errorf("trading session open '%s' is invalid", s.Open)
			}
			if _, err := time.Parse("15:04", s.Close); err != nil {
				return fmt.Errorf("trading session close '%s' is invalid", s.Close)
			}
		}
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0 when the archive is enabled")
		}
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when the archive is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when the archive is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when the archive is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
