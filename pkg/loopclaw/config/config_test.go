package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loopclaw.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFileMissingYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.DataDir != ".loopclaw" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Gateway.Address != "127.0.0.1:8077" {
		t.Errorf("Gateway.Address = %q", cfg.Gateway.Address)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
data_dir: /var/lib/loopclaw
log:
  level: debug
  format: json
gateway:
  address: "0.0.0.0:9000"
agent:
  command: ["claude", "-p"]
  env: ["FOO=bar"]
notify:
  token: discord-token
  channel_id: "123"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.DataDir != "/var/lib/loopclaw" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Gateway.Address != "0.0.0.0:9000" {
		t.Errorf("Gateway.Address = %q", cfg.Gateway.Address)
	}
	if len(cfg.Agent.Command) != 2 || cfg.Agent.Command[0] != "claude" {
		t.Errorf("Agent.Command = %v", cfg.Agent.Command)
	}
	if cfg.Notify.ChannelID != "123" {
		t.Errorf("Notify.ChannelID = %q", cfg.Notify.ChannelID)
	}
	if cfg.DatabasePath() != "/var/lib/loopclaw/loopclaw.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath())
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("LOOPCLAW_TEST_ADDR", "127.0.0.1:9999")

	path := writeConfig(t, `
gateway:
  address: "${LOOPCLAW_TEST_ADDR}"
  auth_token: "${LOOPCLAW_TEST_UNSET:-fallback-token}"
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Gateway.Address != "127.0.0.1:9999" {
		t.Errorf("Address = %q", cfg.Gateway.Address)
	}
	if cfg.Gateway.AuthToken != "fallback-token" {
		t.Errorf("AuthToken = %q", cfg.Gateway.AuthToken)
	}
}

func TestEnvExpansionRequiredMissing(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
gateway:
  auth_token: "${LOOPCLAW_TEST_REQUIRED:?auth token must be set}"
`)
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for missing required variable")
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		cfg := Config{Log: LogConfig{Level: tt.level}}
		if got := cfg.LogLevel().String(); got != tt.want {
			t.Errorf("LogLevel(%q) = %s, want %s", tt.level, got, tt.want)
		}
	}
}
