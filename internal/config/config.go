package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all scenecore configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Upstream agent
	Agent AgentConfig `yaml:"agent"`

	// Scene orchestration
	Scene SceneConfig `yaml:"scene"`

	// Capture heuristics
	Capture CaptureConfig `yaml:"capture"`

	// Session snapshot cache
	Session SessionConfig `yaml:"session"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AgentConfig configures the upstream message source.
type AgentConfig struct {
	Mode        string `yaml:"mode"` // simulated, live
	Timeout     string `yaml:"timeout"`
	CatalogPath string `yaml:"catalog_path"` // optional YAML catalog for the simulator
}

// SceneConfig configures the scene orchestrator.
type SceneConfig struct {
	BaselineSetting  string `yaml:"baseline_setting"`
	DefaultGradient  string `yaml:"default_gradient"`
	FallbackGradient string `yaml:"fallback_gradient"`
}

// CaptureConfig configures capture event extraction.
type CaptureConfig struct {
	PolicyPath    string `yaml:"policy_path"` // optional YAML policy override, hot reloaded
	MinBodyLength int    `yaml:"min_body_length"`
}

// SessionConfig configures snapshot caching and persistence.
type SessionConfig struct {
	Persist          bool   `yaml:"persist"`
	DatabasePath     string `yaml:"database_path"`
	FlushConcurrency int    `yaml:"flush_concurrency"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "scenecore",
		Version: "0.4.0",

		Agent: AgentConfig{
			Mode:    "simulated",
			Timeout: "45s",
		},

		Scene: SceneConfig{
			BaselineSetting:  "studio",
			DefaultGradient:  "linear-gradient(160deg, #f5efe6 0%, #e8dccb 100%)",
			FallbackGradient: "linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%)",
		},

		Capture: CaptureConfig{
			MinBodyLength: 12,
		},

		Session: SessionConfig{
			Persist:          false,
			DatabasePath:     "data/scenecore.db",
			FlushConcurrency: 4,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("SCENECORE_DB"); path != "" {
		c.Session.DatabasePath = path
		c.Session.Persist = true
	}
	if level := os.Getenv("SCENECORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if mode := os.Getenv("SCENECORE_AGENT_MODE"); mode != "" {
		c.Agent.Mode = mode
	}
	if path := os.Getenv("SCENECORE_CAPTURE_POLICY"); path != "" {
		c.Capture.PolicyPath = path
	}
	if v := os.Getenv("SCENECORE_MIN_BODY_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Capture.MinBodyLength = n
		}
	}
}

// GetAgentTimeout returns the agent call timeout as a duration.
func (c *Config) GetAgentTimeout() time.Duration {
	d, err := time.ParseDuration(c.Agent.Timeout)
	if err != nil {
		return 45 * time.Second
	}
	return d
}
