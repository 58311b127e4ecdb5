package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Match     MatchConfig     `yaml:"match"`
	AI        AIConfig        `yaml:"ai"`
	History   HistoryConfig   `yaml:"history"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// WebSocketConfig contains WebSocket settings
type WebSocketConfig struct {
	MaxConnections int           `yaml:"max_connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// MatchConfig contains match and room settings
type MatchConfig struct {
	DefaultFormat      string        `yaml:"default_format"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	MaxConcurrentRooms int           `yaml:"max_concurrent_rooms"`
}

// AIConfig contains AI opponent settings
type AIConfig struct {
	DefaultDifficulty int           `yaml:"default_difficulty"`
	LLMEndpoint       string        `yaml:"llm_endpoint"`
	LLMModel          string        `yaml:"llm_model"`
	LLMAPIKey         string        `yaml:"llm_api_key"`
	LLMTimeout        time.Duration `yaml:"llm_timeout"`
	KnowledgeBaseCmd  string        `yaml:"knowledge_base_cmd"`
}

// HistoryConfig contains match history database settings
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig contains metrics exposition settings
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	ShowCaller bool   `yaml:"show_caller"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        3071,
			Environment: "development",
		},
		WebSocket: WebSocketConfig{
			MaxConnections: 500,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   10 * time.Second,
			PingInterval:   5 * time.Second,
			MaxMessageSize: 65536,
		},
		Match: MatchConfig{
			DefaultFormat:      "gen9ou",
			IdleTimeout:        30 * time.Minute,
			SweepInterval:      time.Minute,
			MaxConcurrentRooms: 200,
		},
		AI: AIConfig{
			DefaultDifficulty: 2,
			LLMEndpoint:       "https://api.openai.com/v1/chat/completions",
			LLMModel:          "gpt-4o-mini",
			LLMTimeout:        8 * time.Second,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./data/history.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnvironmentOverrides applies environment variable overrides.
func (c *Config) ApplyEnvironmentOverrides() {
	if port := os.Getenv("BATTLE_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.Port)
	}

	if host := os.Getenv("HOST"); host != "" {
		c.Server.Host = host
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	// LLM_API_KEY presence is what enables tier 5
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		c.AI.LLMAPIKey = key
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Server.Port)
	}

	if c.WebSocket.MaxConnections < 1 {
		return fmt.Errorf("max connections must be at least 1")
	}

	if c.AI.DefaultDifficulty < 1 || c.AI.DefaultDifficulty > 5 {
		return fmt.Errorf("default difficulty must be 1..5, got %d", c.AI.DefaultDifficulty)
	}

	if c.Match.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}

	return nil
}

// GetAddr returns the server address in host:port format
func (c *Config) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
