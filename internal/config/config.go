package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Hard snooze limits. Workspace config may narrow the range but not widen it.
const (
	SnoozeFloorMinutes   = 1
	SnoozeCeilingMinutes = 1440
)

// Config models tickler.yml.
type Config struct {
	Snooze struct {
		MinMinutes int `yaml:"min_minutes" json:"min_minutes"`
		MaxMinutes int `yaml:"max_minutes" json:"max_minutes"`
	} `yaml:"snooze" json:"snooze"`
	Alerts struct {
		Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
	} `yaml:"alerts" json:"alerts"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
}

// WebhookConfig describes one alert delivery target.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Kinds          []string `yaml:"kinds,omitempty" json:"kinds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run tickler init to create it", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Snooze.MinMinutes < SnoozeFloorMinutes {
		return fmt.Errorf("config.snooze.min_minutes must be at least %d", SnoozeFloorMinutes)
	}
	if c.Snooze.MaxMinutes > SnoozeCeilingMinutes {
		return fmt.Errorf("config.snooze.max_minutes must be at most %d", SnoozeCeilingMinutes)
	}
	if c.Snooze.MinMinutes > c.Snooze.MaxMinutes {
		return fmt.Errorf("config.snooze.min_minutes exceeds max_minutes")
	}
	for i, hook := range c.Alerts.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.alerts.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.alerts.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, kind := range hook.Kinds {
			if strings.TrimSpace(kind) == "" {
				return fmt.Errorf("config.alerts.webhooks[%d] has empty alert kind", i)
			}
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tickler.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `snooze:
  min_minutes: 1
  max_minutes: 1440

alerts:
  webhooks: []
  # - url: https://example.com/hooks/tickler
  #   secret: change-me
  #   timeout_seconds: 5
  #   kinds: [fire, sweep]

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
