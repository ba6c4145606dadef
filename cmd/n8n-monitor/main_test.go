package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pandeptwidyaop/n8n-monitor/internal/config"
)

func writeTestConfig(t *testing.T, masterKey string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n" +
		"  path: " + filepath.Join(dir, "monitor.db") + "\n" +
		"  payload_dir: " + filepath.Join(dir, "payloads") + "\n" +
		"secrets:\n" +
		"  path: " + filepath.Join(dir, "settings.enc") + "\n" +
		"  master_key: \"" + masterKey + "\"\n" +
		"logging:\n" +
		"  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func run(t *testing.T, stdin string, args ...string) error {
	t.Helper()
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&strings.Builder{})
	cmd.SetErr(&strings.Builder{})
	return cmd.Execute()
}

func TestSettingsCommands(t *testing.T) {
	t.Setenv(config.MasterKeyEnv, "")
	t.Setenv(apiKeyEnv, "")
	cfgPath := writeTestConfig(t, strings.Repeat("ab", 32))

	if err := run(t, "", "--config", cfgPath, "settings", "set-url", "https://n8n.example.com/"); err != nil {
		t.Fatalf("set-url failed: %v", err)
	}
	if err := run(t, "n8n_api_0123456789\n", "--config", cfgPath, "settings", "set-key"); err != nil {
		t.Fatalf("set-key failed: %v", err)
	}
	if err := run(t, "", "--config", cfgPath, "settings", "set-url", "ftp://nope"); err == nil {
		t.Error("expected invalid url to be rejected")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	st, err := openSettings(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}
	snap := st.Snapshot()
	if snap.BaseURL.Value != "https://n8n.example.com" {
		t.Errorf("expected normalized url, got %q", snap.BaseURL.Value)
	}
	if snap.APIKey.Value != "n8n_api_0123456789" {
		t.Errorf("expected api key from stdin, got %q", snap.APIKey.Value)
	}

	if err := run(t, "", "--config", cfgPath, "settings", "clear"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
}

func TestMissingMasterKey(t *testing.T) {
	t.Setenv(config.MasterKeyEnv, "")
	cfgPath := writeTestConfig(t, "")

	err := run(t, "", "--config", cfgPath, "settings", "show")
	if err == nil || !strings.Contains(err.Error(), "master key") {
		t.Errorf("expected master key error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	if err := run(t, "", "--config", "/nonexistent/config.yaml", "version"); err != nil {
		t.Errorf("expected version to run without config, got %v", err)
	}
}
