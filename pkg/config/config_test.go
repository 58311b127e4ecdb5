package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaults tests the built-in configuration
func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 3071 {
		t.Errorf("Expected default port 3071, got %d", cfg.Server.Port)
	}
	if cfg.WebSocket.PingInterval != 5*time.Second {
		t.Errorf("Expected ping interval 5s, got %v", cfg.WebSocket.PingInterval)
	}
	if cfg.Match.DefaultFormat != "gen9ou" {
		t.Errorf("Expected default format gen9ou, got %s", cfg.Match.DefaultFormat)
	}
	if cfg.AI.LLMTimeout != 8*time.Second {
		t.Errorf("Expected LLM timeout 8s, got %v", cfg.AI.LLMTimeout)
	}
	if cfg.AI.LLMAPIKey != "" {
		t.Error("LLM API key must default to unset")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration should validate, got %v", err)
	}
	if cfg.GetAddr() != "0.0.0.0:3071" {
		t.Errorf("Unexpected address %s", cfg.GetAddr())
	}
}

// TestLoadConfig tests YAML loading over defaults
func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
server:
  port: 4040
match:
  default_format: "gen9randombattle"
ai:
  default_difficulty: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != 4040 {
		t.Errorf("Expected port 4040, got %d", cfg.Server.Port)
	}
	if cfg.Match.DefaultFormat != "gen9randombattle" {
		t.Errorf("Expected overridden format, got %s", cfg.Match.DefaultFormat)
	}
	if cfg.AI.DefaultDifficulty != 4 {
		t.Errorf("Expected difficulty 4, got %d", cfg.AI.DefaultDifficulty)
	}
	// Untouched keys keep their defaults
	if cfg.WebSocket.PingInterval != 5*time.Second {
		t.Errorf("Expected default ping interval, got %v", cfg.WebSocket.PingInterval)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

// TestEnvironmentOverrides tests the env var precedence
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("BATTLE_PORT", "5055")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LLM_API_KEY", "sk-test")

	cfg := Default()
	cfg.ApplyEnvironmentOverrides()

	if cfg.Server.Port != 5055 {
		t.Errorf("Expected BATTLE_PORT override, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL override, got %s", cfg.Logging.Level)
	}
	if cfg.AI.LLMAPIKey != "sk-test" {
		t.Error("Expected LLM_API_KEY override")
	}
}

// TestValidate tests rejection of bad values
func TestValidate(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Server.Port = 0 },
		func(c *Config) { c.Server.Port = 70000 },
		func(c *Config) { c.WebSocket.MaxConnections = 0 },
		func(c *Config) { c.AI.DefaultDifficulty = 0 },
		func(c *Config) { c.AI.DefaultDifficulty = 6 },
		func(c *Config) { c.Match.IdleTimeout = 0 },
	}
	for i, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("Case %d: expected validation error", i)
		}
	}
}
