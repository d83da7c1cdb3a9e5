package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Broker configures the MQTT connection.
type Broker struct {
	URL      string `toml:"url"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// API configures the chirp backend endpoint.
type API struct {
	BaseURL string `toml:"base_url"`
}

// Config represents the global ~/.chirp/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Broker         Broker `toml:"broker"`
	API            API    `toml:"api"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that connecting is even possible with this config.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("config: broker.url is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("config: api.base_url is required")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
