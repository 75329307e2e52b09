package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GatewayURL == "" {
		t.Error("default gateway URL missing")
	}
	if cfg.ReconnectInterval() != 3*time.Second {
		t.Errorf("unexpected reconnect interval %s", cfg.ReconnectInterval())
	}
	if cfg.MaxReconnectAttempts != 10 {
		t.Errorf("unexpected max attempts %d", cfg.MaxReconnectAttempts)
	}
	if cfg.HeartbeatInterval() != 30*time.Second {
		t.Errorf("unexpected heartbeat interval %s", cfg.HeartbeatInterval())
	}
	if !cfg.AutoReconnect {
		t.Error("auto reconnect should default on")
	}
	if cfg.Sandbox.TimeoutMs != 5000 {
		t.Errorf("unexpected sandbox timeout %d", cfg.Sandbox.TimeoutMs)
	}
}

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.GatewayURL != DefaultConfig().GatewayURL {
		t.Errorf("defaults not applied: %s", cfg.GatewayURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
gateway_url: wss://gw.example.com/gateway
token: secret
reconnect_interval_ms: 500
max_reconnect_attempts: 3
auto_reconnect: false
sandbox:
  timeout_ms: 250
`)
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GatewayURL != "wss://gw.example.com/gateway" {
		t.Errorf("url not loaded: %s", cfg.GatewayURL)
	}
	if cfg.Token != "secret" {
		t.Errorf("token not loaded: %s", cfg.Token)
	}
	if cfg.ReconnectInterval() != 500*time.Millisecond {
		t.Errorf("interval not loaded: %s", cfg.ReconnectInterval())
	}
	if cfg.MaxReconnectAttempts != 3 {
		t.Errorf("attempts not loaded: %d", cfg.MaxReconnectAttempts)
	}
	if cfg.AutoReconnect {
		t.Error("auto_reconnect override ignored")
	}
	if cfg.Sandbox.TimeoutMs != 250 {
		t.Errorf("sandbox timeout not loaded: %d", cfg.Sandbox.TimeoutMs)
	}
	// Unset fields keep their defaults.
	if cfg.HeartbeatInterval() != 30*time.Second {
		t.Errorf("heartbeat default lost: %s", cfg.HeartbeatInterval())
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("COMPANION_TEST_TOKEN", "from-env")
	path := writeConfig(t, `
gateway_url: ws://localhost:1/gateway
token: ${COMPANION_TEST_TOKEN}
`)
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "from-env" {
		t.Errorf("env not expanded: %q", cfg.Token)
	}
}

func TestMalformedYAMLIsAnError(t *testing.T) {
	path := writeConfig(t, "gateway_url: [unterminated")
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsEmptyURL(t *testing.T) {
	path := writeConfig(t, `gateway_url: ""`)
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Token = "persisted"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFrom(filepath.Join(cfg.DataDir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Token != "persisted" {
		t.Errorf("token not persisted: %q", loaded.Token)
	}
}
