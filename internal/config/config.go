package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskdesk.yml.
type Config struct {
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		DevActor  string `yaml:"dev_actor"`
	} `yaml:"auth"`
	Uploads struct {
		MaxSizeBytes int64 `yaml:"max_size_bytes"`
	} `yaml:"uploads"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskdesk.yml")
}

// Load reads config from the workspace, falling back to defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	if c.Uploads.MaxSizeBytes < 0 {
		return fmt.Errorf("config.uploads.max_size_bytes must be >= 0")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q unknown", c.Log.Level)
	}
	return nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Server.Listen = "127.0.0.1:8787"
	cfg.Server.BasePath = "/v0"
	cfg.Uploads.MaxSizeBytes = 25 << 20
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 20
	cfg.Log.MaxBackups = 3
	return &cfg
}
