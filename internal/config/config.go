// Package config loads the monitor configuration from YAML.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pandeptwidyaop/n8n-monitor/internal/version"
)

// MasterKeyEnv overrides secrets.master_key when set.
const MasterKeyEnv = "N8N_MONITOR_MASTER_KEY"

// ErrMasterKeyMissing is returned when no settings master key is configured.
var ErrMasterKeyMissing = errors.New("secrets master key is not configured")

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Cache    CacheConfig    `yaml:"cache"`
	Sync     SyncConfig     `yaml:"sync"`
	Secrets  SecretsConfig  `yaml:"secrets"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	PathPrefix string `yaml:"path_prefix"`
}

type DatabaseConfig struct {
	Path       string `yaml:"path"`
	PayloadDir string `yaml:"payload_dir"`
	// AllowDestructiveMigration permits rebuilding the schema when no
	// migration path exists. Rebuilding drops all cached rows.
	AllowDestructiveMigration bool `yaml:"allow_destructive_migration"`
}

type RemoteConfig struct {
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

type CacheConfig struct {
	TTL           string `yaml:"ttl"`
	Capacity      int    `yaml:"capacity"`
	SweepInterval string `yaml:"sweep_interval"`
}

type SyncConfig struct {
	Retention             string `yaml:"retention"`
	CleanupInterval       string `yaml:"cleanup_interval"`
	ExecutionsPerWorkflow int    `yaml:"executions_per_workflow"`
	KeepExecutions        int    `yaml:"keep_executions"`
	FailureLookback       string `yaml:"failure_lookback"`
	RetryAttempts         int    `yaml:"retry_attempts"`
	RetryBaseDelay        string `yaml:"retry_base_delay"`
	RetryMaxDelay         string `yaml:"retry_max_delay"`
}

type SecretsConfig struct {
	Path      string `yaml:"path"`
	MasterKey string `yaml:"master_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *RemoteConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

func (c *CacheConfig) GetTTL() time.Duration {
	return parseDuration(c.TTL, 5*time.Minute)
}

func (c *CacheConfig) GetCapacity() int {
	if c.Capacity <= 0 {
		return 100
	}
	return c.Capacity
}

func (c *CacheConfig) GetSweepInterval() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

func (c *SyncConfig) GetRetention() time.Duration {
	return parseDuration(c.Retention, 24*time.Hour)
}

func (c *SyncConfig) GetCleanupInterval() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

func (c *SyncConfig) GetFailureLookback() time.Duration {
	return parseDuration(c.FailureLookback, time.Hour)
}

func (c *SyncConfig) GetRetryBaseDelay() time.Duration {
	return parseDuration(c.RetryBaseDelay, 500*time.Millisecond)
}

func (c *SyncConfig) GetRetryMaxDelay() time.Duration {
	return parseDuration(c.RetryMaxDelay, 10*time.Second)
}

// GetMasterKey returns the 32-byte settings key from the environment or the
// config file, in that order.
func (c *SecretsConfig) GetMasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(MasterKeyEnv))
	if raw == "" {
		raw = strings.TrimSpace(c.MasterKey)
	}
	if raw == "" {
		return nil, ErrMasterKeyMissing
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid master key (must be 64 hex chars): %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid master key length: expected 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Load reads the config at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	setDefaults(&cfg)

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8686
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/n8n_monitor.db"
	}
	if cfg.Database.PayloadDir == "" {
		cfg.Database.PayloadDir = "./data/payloads"
	}
	if cfg.Remote.Timeout == "" {
		cfg.Remote.Timeout = "30s"
	}
	if cfg.Remote.UserAgent == "" {
		cfg.Remote.UserAgent = "n8n-monitor-go/" + version.Version
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = "5m"
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 100
	}
	if cfg.Cache.SweepInterval == "" {
		cfg.Cache.SweepInterval = "1m"
	}
	if cfg.Sync.Retention == "" {
		cfg.Sync.Retention = "24h"
	}
	if cfg.Sync.CleanupInterval == "" {
		cfg.Sync.CleanupInterval = "1h"
	}
	if cfg.Sync.ExecutionsPerWorkflow == 0 {
		cfg.Sync.ExecutionsPerWorkflow = 20
	}
	if cfg.Sync.KeepExecutions == 0 {
		cfg.Sync.KeepExecutions = 100
	}
	if cfg.Sync.FailureLookback == "" {
		cfg.Sync.FailureLookback = "1h"
	}
	if cfg.Sync.RetryAttempts == 0 {
		cfg.Sync.RetryAttempts = 3
	}
	if cfg.Sync.RetryBaseDelay == "" {
		cfg.Sync.RetryBaseDelay = "500ms"
	}
	if cfg.Sync.RetryMaxDelay == "" {
		cfg.Sync.RetryMaxDelay = "10s"
	}
	if cfg.Secrets.Path == "" {
		cfg.Secrets.Path = "./data/settings.enc"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}
