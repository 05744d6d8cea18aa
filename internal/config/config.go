// Package config loads the OPQL tool configuration from YAML.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/knesgoda/outpaged-opql/pkg/engine"
	"github.com/knesgoda/outpaged-opql/pkg/resorank"
)

// Config holds all OPQL configuration.
type Config struct {
	Ranking resorank.ResoRankConfig `yaml:"ranking"`
	Offline OfflineConfig           `yaml:"offline"`
	Access  AccessConfig            `yaml:"access"`
	Logging LoggingConfig           `yaml:"logging"`
}

// OfflineConfig configures the local replica.
type OfflineConfig struct {
	// Dir holds the replica manifest and vector index. Empty keeps the
	// replica in memory.
	Dir          string `yaml:"dir"`
	// DSN of the SQLite row store; empty uses the in-memory store.
	DSN          string `yaml:"dsn"`
	DefaultLimit int    `yaml:"default_limit"`
	Workers      int    `yaml:"workers"`
}

// AccessConfig is the principal the CLI queries as.
type AccessConfig struct {
	WorkspaceID string   `yaml:"workspace_id"`
	PrincipalID string   `yaml:"principal_id"`
	Roles       []string `yaml:"roles"`
	Permissions []string `yaml:"permissions"`
	AllowAll    bool     `yaml:"allow_all"`
}

// Principal converts the access settings for the engine.
func (a AccessConfig) Principal() engine.Principal {
	return engine.Principal{
		PrincipalID: a.PrincipalID,
		WorkspaceID: a.WorkspaceID,
		Roles:       a.Roles,
		Permissions: a.Permissions,
		AllowAll:    a.AllowAll,
	}
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Development bool   `yaml:"development"` // console encoder, stack traces on warn
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return &Config{
		Ranking: resorank.DefaultConfig(),
		Offline: OfflineConfig{
			DefaultLimit: 50,
			Workers:      4,
		},
		Access: AccessConfig{
			PrincipalID: "local",
			Permissions: []string{"search.*"},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if ws := os.Getenv("OPQL_WORKSPACE"); ws != "" {
		c.Access.WorkspaceID = ws
	}
	if level := os.Getenv("OPQL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dir := os.Getenv("OPQL_REPLICA_DIR"); dir != "" {
		c.Offline.Dir = dir
	}
}

var validLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the values the loaders cannot.
func (c *Config) Validate() error {
	if c.Offline.DefaultLimit < 0 {
		return fmt.Errorf("offline.default_limit must not be negative: %d", c.Offline.DefaultLimit)
	}
	if c.Offline.Workers < 0 {
		return fmt.Errorf("offline.workers must not be negative: %d", c.Offline.Workers)
	}
	if c.Ranking.K1 < 0 || c.Ranking.B < 0 || c.Ranking.B > 1 {
		return fmt.Errorf("invalid ranking parameters: k1=%v b=%v", c.Ranking.K1, c.Ranking.B)
	}
	level := strings.ToLower(c.Logging.Level)
	for _, l := range validLevels {
		if level == l {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, validLevels)
}
