// Package config models planner.yml, the per-workspace configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martin3r-me/platforms-planner-sub000/internal/reasoner"
)

// Config models planner.yml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Batch    BatchConfig    `yaml:"batch"`
	Reasoner ReasonerConfig `yaml:"reasoner"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	JWTSecret string `yaml:"jwt_secret"`
}

type BatchConfig struct {
	LockKey  string        `yaml:"lock_key"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	Deadline time.Duration `yaml:"deadline"`
	MaxItems int           `yaml:"max_items"`
	// Schedule is the cron expression the daemon runs on.
	Schedule string `yaml:"schedule"`
}

type ReasonerConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// APIKeyEnv names the environment variable holding the key; the key
	// itself never lives in the file.
	APIKeyEnv       string                 `yaml:"api_key_env"`
	MaxIterations   int                    `yaml:"max_iterations"`
	MaxOutputTokens int                    `yaml:"max_output_tokens"`
	Breaker         reasoner.BreakerConfig `yaml:"breaker"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planner.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:     ":8787",
			BasePath: "/v1",
		},
		Batch: BatchConfig{
			LockKey:  "planner.batch",
			Deadline: 10 * time.Minute,
			Schedule: "*/15 * * * *",
		},
		Reasoner: ReasonerConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			APIKeyEnv:     "OPENAI_API_KEY",
			MaxIterations: 8,
		},
	}
}

// Load reads planner.yml from the workspace, falling back to defaults when
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

// FromYAML parses and validates config from raw YAML bytes. Omitted fields
// keep their defaults.
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

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Batch.LockKey == "" {
		return fmt.Errorf("config.batch.lock_key is required")
	}
	if c.Batch.Deadline <= 0 {
		return fmt.Errorf("config.batch.deadline must be positive")
	}
	if c.Batch.LockTTL > 0 && c.Batch.LockTTL <= c.Batch.Deadline {
		return fmt.Errorf("config.batch.lock_ttl must exceed the deadline")
	}
	if c.Reasoner.Provider != "openai" {
		return fmt.Errorf("config.reasoner.provider %q is not supported", c.Reasoner.Provider)
	}
	if c.Reasoner.MaxIterations <= 0 {
		return fmt.Errorf("config.reasoner.max_iterations must be positive")
	}
	return nil
}

// APIKey resolves the reasoner key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Reasoner.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Reasoner.APIKeyEnv)
}
