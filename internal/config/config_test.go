package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	configPath := filepath.Join(tempDir, "config.yaml")
	configContent := `
server:
  host: "0.0.0.0"
  port: 9090
  path_prefix: "/monitor"

database:
  path: "/data/test.db"
  payload_dir: "/data/payloads"
  allow_destructive_migration: true

remote:
  timeout: "10s"
  user_agent: "test-agent/1.0"

cache:
  ttl: "2m"
  capacity: 50
  sweep_interval: "30s"

sync:
  retention: "12h"
  cleanup_interval: "30m"
  executions_per_workflow: 5
  keep_executions: 10
  failure_lookback: "2h"
  retry_attempts: 4
  retry_base_delay: "1s"
  retry_max_delay: "20s"

secrets:
  path: "/data/settings.enc"
  master_key: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

logging:
  level: "debug"
  format: "json"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host '0.0.0.0', got '%s'", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.PathPrefix != "/monitor" {
		t.Errorf("expected path_prefix '/monitor', got '%s'", cfg.Server.PathPrefix)
	}
	if cfg.Database.Path != "/data/test.db" {
		t.Errorf("expected database path '/data/test.db', got '%s'", cfg.Database.Path)
	}
	if !cfg.Database.AllowDestructiveMigration {
		t.Error("expected allow_destructive_migration to be true")
	}
	if cfg.Remote.GetTimeout() != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", cfg.Remote.GetTimeout())
	}
	if cfg.Remote.UserAgent != "test-agent/1.0" {
		t.Errorf("expected user agent 'test-agent/1.0', got '%s'", cfg.Remote.UserAgent)
	}
	if cfg.Cache.GetTTL() != 2*time.Minute {
		t.Errorf("expected ttl 2m, got %v", cfg.Cache.GetTTL())
	}
	if cfg.Cache.GetCapacity() != 50 {
		t.Errorf("expected capacity 50, got %d", cfg.Cache.GetCapacity())
	}
	if cfg.Sync.GetRetention() != 12*time.Hour {
		t.Errorf("expected retention 12h, got %v", cfg.Sync.GetRetention())
	}
	if cfg.Sync.ExecutionsPerWorkflow != 5 {
		t.Errorf("expected executions_per_workflow 5, got %d", cfg.Sync.ExecutionsPerWorkflow)
	}
	if cfg.Sync.KeepExecutions != 10 {
		t.Errorf("expected keep_executions 10, got %d", cfg.Sync.KeepExecutions)
	}
	if cfg.Sync.RetryAttempts != 4 {
		t.Errorf("expected retry_attempts 4, got %d", cfg.Sync.RetryAttempts)
	}
	if cfg.Sync.GetRetryMaxDelay() != 20*time.Second {
		t.Errorf("expected retry_max_delay 20s, got %v", cfg.Sync.GetRetryMaxDelay())
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected logging format 'json', got '%s'", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected default host '127.0.0.1', got '%s'", cfg.Server.Host)
	}
	if cfg.Server.Port != 8686 {
		t.Errorf("expected default port 8686, got %d", cfg.Server.Port)
	}
	if cfg.Database.Path != "./data/n8n_monitor.db" {
		t.Errorf("expected default database path, got '%s'", cfg.Database.Path)
	}
	if cfg.Database.AllowDestructiveMigration {
		t.Error("expected destructive migration to be disabled by default")
	}
	if cfg.Cache.GetTTL() != 5*time.Minute {
		t.Errorf("expected default ttl 5m, got %v", cfg.Cache.GetTTL())
	}
	if cfg.Cache.GetCapacity() != 100 {
		t.Errorf("expected default capacity 100, got %d", cfg.Cache.GetCapacity())
	}
	if cfg.Sync.GetRetention() != 24*time.Hour {
		t.Errorf("expected default retention 24h, got %v", cfg.Sync.GetRetention())
	}
	if cfg.Remote.GetTimeout() != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", cfg.Remote.GetTimeout())
	}
	if !strings.HasPrefix(cfg.Remote.UserAgent, "n8n-monitor-go/") {
		t.Errorf("expected default user agent prefix, got '%s'", cfg.Remote.UserAgent)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level 'info', got '%s'", cfg.Logging.Level)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if cfg.Secrets.Path != "./data/settings.enc" {
		t.Errorf("expected default secrets path, got '%s'", cfg.Secrets.Path)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for non-existent config file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestDurations_InvalidFallsBack(t *testing.T) {
	cfg := &SyncConfig{Retention: "invalid", CleanupInterval: "-5m"}
	if cfg.GetRetention() != 24*time.Hour {
		t.Errorf("expected fallback retention 24h, got %v", cfg.GetRetention())
	}
	if cfg.GetCleanupInterval() != time.Hour {
		t.Errorf("expected fallback cleanup interval 1h, got %v", cfg.GetCleanupInterval())
	}

	cache := &CacheConfig{TTL: "bogus"}
	if cache.GetTTL() != 5*time.Minute {
		t.Errorf("expected fallback ttl 5m, got %v", cache.GetTTL())
	}
}

func TestSecretsConfig_GetMasterKey(t *testing.T) {
	t.Setenv(MasterKeyEnv, "")

	cfg := &SecretsConfig{}
	if _, err := cfg.GetMasterKey(); err != ErrMasterKeyMissing {
		t.Errorf("expected ErrMasterKeyMissing, got %v", err)
	}

	cfg.MasterKey = "not-hex"
	if _, err := cfg.GetMasterKey(); err == nil {
		t.Error("expected error for non-hex key")
	}

	cfg.MasterKey = "abcd"
	if _, err := cfg.GetMasterKey(); err == nil {
		t.Error("expected error for short key")
	}

	cfg.MasterKey = strings.Repeat("ab", 32)
	key, err := cfg.GetMasterKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(key))
	}

	t.Setenv(MasterKeyEnv, strings.Repeat("cd", 32))
	key, err = cfg.GetMasterKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key[0] != 0xcd {
		t.Errorf("expected environment key to take precedence, got first byte %x", key[0])
	}
}
