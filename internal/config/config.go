// Package config loads the beacon server configuration from a YAML file with
// environment-variable expansion, plus a separate per-provider API keys file
// kept at 0600.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`

	// Providers holds API keys loaded from the keys file and environment.
	// It is never serialized back into the main config file.
	Providers ProviderKeys `yaml:"-"`

	// KeysPath is where the provider keys file lives.
	KeysPath string `yaml:"keys_path"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig controls the embedded store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ProviderKeys holds one API key per LLM provider.
type ProviderKeys struct {
	OpenAI    string `yaml:"openai"`
	Anthropic string `yaml:"anthropic"`
	Google    string `yaml:"google"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".beacon")
	return &Config{
		Server:   ServerConfig{Addr: "127.0.0.1:4318"},
		Database: DatabaseConfig{Path: filepath.Join(base, "beacon.db")},
		Log:      LogConfig{Level: "info"},
		KeysPath: filepath.Join(base, "keys.yaml"),
	}
}

// Load reads the config file at path, expanding ${ENV} references, then
// overlays the keys file and environment variables. A missing config file is
// not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.loadKeys(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// loadKeys reads the provider keys file if it exists.
func (c *Config) loadKeys() error {
	if c.KeysPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.KeysPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read keys file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Providers); err != nil {
		return fmt.Errorf("parse keys file %s: %w", c.KeysPath, err)
	}
	return nil
}

// applyEnv overlays provider keys from the environment. Environment wins
// over the keys file.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.Anthropic = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Providers.Google = v
	}
}

// SaveKeys writes the provider keys file with owner-only permissions.
func (c *Config) SaveKeys() error {
	if c.KeysPath == "" {
		return fmt.Errorf("keys path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(c.KeysPath), 0o755); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}
	data, err := yaml.Marshal(c.Providers)
	if err != nil {
		return fmt.Errorf("marshal keys: %w", err)
	}
	if err := os.WriteFile(c.KeysPath, data, 0o600); err != nil {
		return fmt.Errorf("write keys file: %w", err)
	}
	return nil
}
