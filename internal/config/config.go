// Package config manages the store configuration kept in uds.yaml.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file in the data directory.
const FileName = "uds.yaml"

// Config is the store configuration. It is loaded from uds.yaml and created
// with defaults if missing.
type Config struct {
	// Driver is the storage driver: "jsonl" or "sqlite".
	Driver string `yaml:"driver"`

	// Watch reloads JSONL collections edited by another process.
	Watch bool `yaml:"watch"`

	// JWTSecret signs login tokens, hex encoded. Generated on first load.
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL is the lifetime of login tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`

	// Login throttles login attempts per username.
	Login LoginLimits `yaml:"login"`
}

// LoginLimits bounds login attempts per username.
type LoginLimits struct {
	// Attempts allowed per Window.
	Attempts int           `yaml:"attempts"`
	Window   time.Duration `yaml:"window"`
	// Burst is the number of attempts allowed back to back.
	Burst int `yaml:"burst"`
}

// Validate checks that the limits are positive.
func (l *LoginLimits) Validate() error {
	if l.Attempts <= 0 {
		return errors.New("attempts must be positive")
	}
	if l.Window <= 0 {
		return errors.New("window must be positive")
	}
	if l.Burst <= 0 {
		return errors.New("burst must be positive")
	}
	return nil
}

// Default returns the default configuration, without secret.
func Default() Config {
	return Config{
		Driver:   "jsonl",
		TokenTTL: 24 * time.Hour,
		Login:    LoginLimits{Attempts: 5, Window: time.Minute, Burst: 5},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Driver {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	secret, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return fmt.Errorf("jwt_secret must be hex encoded: %w", err)
	}
	if len(secret) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}
	if err := c.Login.Validate(); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// Load loads dataDir/uds.yaml, creating it with defaults if it doesn't exist.
// A missing JWT secret is generated and saved.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	modified := false
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from dataDir
	switch {
	case errors.Is(err, os.ErrNotExist):
		modified = true
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
	}
	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		modified = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	if modified {
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Save writes the configuration to dataDir/uds.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dataDir, err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}
