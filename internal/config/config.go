package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

var (
	ErrNoConfig        = errors.New("config file not found")
	ErrNoAPIKey        = errors.New("api_key not set in config")
	ErrInvalidJSON     = errors.New("invalid config JSON")
	ErrInvalidProvider = errors.New("provider must be \"openai\" or \"anthropic\"")
)

// Config holds the global patchwork configuration.
type Config struct {
	APIKey       string   `json:"api_key"`
	BaseURL      string   `json:"base_url"`
	Provider     string   `json:"provider"`      // Delta-format provider: "openai" or "anthropic"
	DefaultModel string   `json:"default_model"`
	Temperature  *float64 `json:"temperature"`   // Sampling temperature (default: 0.2)
	MaxTokens    *int     `json:"max_tokens"`    // Completion token cap (default: 8192)
}

// Load reads the config from ~/.config/patchwork/config.json.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(homeDir, ".config", "patchwork", "config.json")
	return LoadFrom(configPath)
}

// LoadFrom reads the config from a specific path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfig
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, ErrInvalidJSON
	}

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	// Set defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4"
	}
	if cfg.Temperature == nil {
		t := 0.2
		cfg.Temperature = &t
	}
	if cfg.MaxTokens == nil {
		m := 8192
		cfg.MaxTokens = &m
	}
	switch cfg.Provider {
	case "openai", "anthropic":
		// valid
	default:
		return nil, ErrInvalidProvider
	}

	return &cfg, nil
}
